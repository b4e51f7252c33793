// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package release

import (
	"errors"
	"runtime"
)

// UnameHost reads the kernel release with uname(2).
type UnameHost struct{}

// HostRelease implements HostIdentifier.
func (UnameHost) HostRelease() (string, error) {
	return "", errors.New("host release detection is not supported on " + runtime.GOOS)
}
