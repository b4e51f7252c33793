// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces the per-user config directory. Tests use it to
// keep away from the real home directory.
var configDirOverride string

// Reset clears the config directory override.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride makes ConfigDir return dir.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
