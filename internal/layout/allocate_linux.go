package layout

import (
	"os"

	"golang.org/x/sys/unix"
)

// allocate reserves size bytes for f, falling back to a sparse extension
// on filesystems without fallocate
func allocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		return f.Truncate(size)
	}
	return err
}
