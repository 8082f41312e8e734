package domain

// Unmatched 描述无法解析出 identity 的输入文件（文件名与父目录都不满足任何文法）。
type Unmatched struct {
	File   VideoFile
	Reason string
}
