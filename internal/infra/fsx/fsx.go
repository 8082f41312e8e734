// Package fsx 集中 out/ 与 cache/ 下的文件系统写操作：原子写入、同盘移动与回滚。
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// 测试里替换它来模拟 EXDEV / 权限错误。
var renameFunc = os.Rename

// PathTypeConflictError 表示目标路径类型冲突（例如期望文件但实际是目录）。
// 上层映射为 error_code=target_conflict。
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("目标路径类型冲突：%q（期望 %s，实际 %s）", e.Path, e.Want, e.Got)
}

func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError 表示 rename 跨文件系统（EXDEV）。
// 视频文件可能很大：遇到 EXDEV 直接失败，不做 copy+delete。
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("跨盘移动失败（EXDEV）：%q -> %q；out/ 必须与源文件在同一文件系统：%v", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename 封装 os.Rename，把 EXDEV 显式标记为 CrossDeviceError。
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// EnsureDir 保证 dir 是目录；路径上已有同名文件时返回 PathTypeConflictError。
func EnsureDir(dir string) error {
	fi, err := os.Stat(dir)
	if err == nil {
		if fi.IsDir() {
			return nil
		}
		return &PathTypeConflictError{Path: dir, Want: "dir", Got: "file"}
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// checkFree 在 dst 已存在时返回 os.ErrExist（或类型冲突）；不存在返回 nil。
func checkFree(dst string) error {
	fi, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}
	if !fi.Mode().IsRegular() {
		return &PathTypeConflictError{Path: dst, Want: "regular file", Got: fi.Mode().Type().String()}
	}
	return os.ErrExist
}

// CreateAtomic 在 dir 下原子创建 name（同目录临时文件 + rename）；已存在返回 os.ErrExist。
//
// 用于 sidecar（nfo/poster/fanart）：用户手工放置的文件永远不会被覆盖。
func CreateAtomic(dir, name string, data []byte) error {
	if err := checkFree(filepath.Join(filepath.Clean(dir), name)); err != nil {
		return err
	}
	return writeAtomic(dir, name, data)
}

// ReplaceAtomic 原子写入并覆盖同名文件；用于 cache/ 下的内部状态。
func ReplaceAtomic(dir, name string, data []byte) error {
	return writeAtomic(dir, name, data)
}

func writeAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 临时文件以 '.' 开头，避免媒体库扫到半成品。
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return err
	}

	_ = syncDirBestEffort(dir)
	return nil
}

// Batch 依次执行移动并记录已完成的步骤，供失败时倒序回滚。
//
// 约束：
// - 目标已存在时拒绝移动（os.Rename 在 unix 上会静默覆盖）
// - Rollback 只撤销本 Batch 成功执行过的移动
type Batch struct {
	done []move
}

type move struct{ src, dst string }

// Move 把 src 移动到 dst；成功后计入 Batch。
func (b *Batch) Move(src, dst string) error {
	if err := checkFree(dst); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("目标已存在：%q: %w", dst, err)
		}
		return err
	}
	if err := Rename(src, dst); err != nil {
		return err
	}
	b.done = append(b.done, move{src: src, dst: dst})
	return nil
}

// Len 返回已成功的移动数。
func (b *Batch) Len() int { return len(b.done) }

// Rollback 倒序撤销已完成的移动。返回值与 Move 成功的顺序一一对应（nil 表示已撤销）。
func (b *Batch) Rollback() []error {
	errs := make([]error, len(b.done))
	for i := len(b.done) - 1; i >= 0; i-- {
		errs[i] = Rename(b.done[i].dst, b.done[i].src)
	}
	b.done = nil
	return errs
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	// Windows 上目录 Sync 的语义不稳定，直接跳过。
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
