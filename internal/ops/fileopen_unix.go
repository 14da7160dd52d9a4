//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/aimi/goalgraph/internal/errors"
)

// openNoFollow opens path with O_NOFOLLOW so the final component cannot be a
// symlink. Directory components are covered by ValidatePath.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		switch {
		case stderrors.Is(err, syscall.ELOOP):
			return nil, errors.NewInvalidRequest("path must not be a symlink")
		case stderrors.Is(err, syscall.ENOENT):
			return nil, fileNotFound(path)
		}
		return nil, errors.NewInternal(err)
	}
	return os.NewFile(uintptr(fd), path), nil
}
