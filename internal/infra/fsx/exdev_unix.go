//go:build unix

package fsx

import (
	"errors"
	"syscall"
)

// isEXDEV：errors.Is 会穿过 *os.LinkError 的 Unwrap。
func isEXDEV(err error) bool { return errors.Is(err, syscall.EXDEV) }
