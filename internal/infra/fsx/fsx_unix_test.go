//go:build unix

package fsx

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRename_CrossDeviceEXDEV(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { renameFunc = old }()

	err := Rename("/in/STARS-804.mp4", "/media/out/STARS-804/STARS-804.mp4")
	require.Error(t, err)
	require.True(t, IsCrossDevice(err), "实际：%T %v", err, err)
	require.ErrorIs(t, err, syscall.EXDEV)
}
