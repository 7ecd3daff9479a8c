//go:build linux

package dio

import (
	"errors"

	"golang.org/x/sys/unix"
)

// directUnsupported reports whether an O_DIRECT open failed because the
// filesystem does not support it (tmpfs, some fuse and overlay mounts)
func directUnsupported(err error) bool {
	return errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP)
}
