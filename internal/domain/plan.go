package domain

// MovePlan 规划一次文件移动（只描述 src/dst；真正执行必须遵守“移动最后一步”）。
// Companion 为 true 表示这是随视频移动的字幕文件。
type MovePlan struct {
	SrcAbs    string
	DstAbs    string
	Companion bool
}

type SidecarNeed struct {
	NeedAggregate bool
	NeedNFO       bool
	NeedPoster    bool
	NeedFanart    bool
}

// ItemPlan 是对某个 identity 的最小执行计划。
type ItemPlan struct {
	ID      Identity
	Sources []string

	Moves []MovePlan
	Need  SidecarNeed
}
