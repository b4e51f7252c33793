// SPDX-License-Identifier: MPL-2.0

//go:build unix

package release

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// UnameHost reads the kernel release with uname(2).
type UnameHost struct{}

// HostRelease implements HostIdentifier.
func (UnameHost) HostRelease() (string, error) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return unix.ByteSliceToString(u.Release[:]), nil
}
