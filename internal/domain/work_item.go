package domain

// WorkItem 是按 identity 聚合后的工作单元。
// 为了数据局部性，WorkItem 只保存文件下标（指向 []VideoFile），避免复制大结构体。
//
// Parts 与 FileIdx 一一对应：同一 identity 的多段文件（CD1/CD2...）各自保留 part。
type WorkItem struct {
	ID      Identity
	FileIdx []int
	Parts   []uint
}
