// Package scan 遍历输入目录，收集视频文件与同名字幕（只做 stat，不读内容）。
package scan

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/avmerge/internal/domain"
)

var (
	videoExts    = map[string]bool{".mp4": true, ".mkv": true, ".avi": true, ".wmv": true, ".mov": true, ".m4v": true, ".ts": true}
	subtitleExts = map[string]bool{".srt": true, ".ass": true, ".ssa": true}
)

// IsVideoExt 判断扩展名（小写，带点）是否为支持的视频格式。
func IsVideoExt(ext string) bool { return videoExts[ext] }

// Videos 扫描 root 下的视频文件。
//
// 约束：
// - 永久排除 <root>/out/ 与 <root>/cache/；excludeDirs 相对 root（绝对路径按原样）
// - 以 '.' 开头的文件与目录跳过（原子写入的临时文件、macOS 的 "._" 资源分叉）
// - 字幕不单独成为输入：同目录下 Base 相同或形如 "<Base>.<lang>" 的字幕挂到对应视频上
// - 输出按 RelPath 排序
func Videos(root string, excludeDirs []string) ([]domain.VideoFile, error) {
	root = filepath.Clean(root)
	skip := excludedDirs(root, excludeDirs)

	var files []domain.VideoFile
	subs := map[string][]string{} // dir -> 字幕绝对路径
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := d.Name()
		if d.IsDir() {
			if skip[filepath.Clean(path)] || (path != root && strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(name))
		switch {
		case subtitleExts[ext]:
			dir := filepath.Dir(path)
			subs[dir] = append(subs[dir], path)
			return nil
		case !videoExts[ext]:
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, domain.VideoFile{
			AbsPath: path,
			RelPath: rel,
			Base:    strings.TrimSuffix(name, filepath.Ext(name)),
			Ext:     ext,
			Size:    info.Size(),
			ModUnix: info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range files {
		files[i].Subtitles = subtitlesFor(files[i].Base, subs[filepath.Dir(files[i].AbsPath)])
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// subtitlesFor 返回属于 videoBase 的字幕（大小写不敏感，按路径排序）。
func subtitlesFor(videoBase string, candidates []string) []string {
	var out []string
	base := strings.ToLower(videoBase)
	for _, p := range candidates {
		name := filepath.Base(p)
		sb := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
		if sb == base || strings.HasPrefix(sb, base+".") {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func excludedDirs(root string, excludeDirs []string) map[string]bool {
	skip := map[string]bool{
		filepath.Join(root, "out"):   true,
		filepath.Join(root, "cache"): true,
	}
	for _, x := range excludeDirs {
		x = strings.TrimSpace(x)
		if x == "" {
			continue
		}
		if !filepath.IsAbs(x) {
			x = filepath.Join(root, x)
		}
		skip[filepath.Clean(x)] = true
	}
	return skip
}
