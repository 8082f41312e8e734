package identity

import (
	"errors"
	"path/filepath"

	"github.com/John-Robertt/avmerge/internal/domain"
)

// Extract 从 VideoFile 中解析 identity：先文件名，失败再回退父目录名
// （常见于 "STARS-804/1.mp4" 这种把编号写在目录上的整理方式）。
//
// part 只取自文件名：父目录兜底时 part 恒为 0。
func Extract(v domain.VideoFile) (domain.Identity, error) {
	id, err := Parse(v.Base)
	if err == nil {
		return id, nil
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		return domain.Identity{}, err
	}

	parent := filepath.Base(filepath.Dir(v.AbsPath))
	if parent == "." || parent == string(filepath.Separator) {
		return domain.Identity{}, err
	}
	if pid, perr := Parse(parent); perr == nil {
		return pid.WithPart(0), nil
	}
	return domain.Identity{}, err
}
