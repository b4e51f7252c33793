// SPDX-License-Identifier: MPL-2.0

// Package config loads iocage-provision settings using Viper with CUE as the
// file format.
//
// The first file found wins: an explicit --config path, then
// $XDG_CONFIG_HOME/iocage-provision/config.cue (~/.config when unset), then
// /usr/local/etc/iocage-provision/config.cue. With no file the defaults
// apply. Every key can be overridden from the environment with the
// IOCAGE_PROVISION_ prefix, dots replaced by underscores
// (IOCAGE_PROVISION_SSH_PACKAGE).
//
// Files are validated against the embedded config_schema.cue before they are
// merged, so type and enum errors name the offending field.
package config
