//go:build !linux

package dio

import (
	"errors"
)

// directUnsupported reports whether a direct open failed because the
// platform has no page cache bypass for this file
func directUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported)
}
