// SPDX-License-Identifier: MPL-2.0

// Package hostuser snapshots a host account so it can be recreated inside a jail.
//
// A Record carries the numeric ids, home directory, login shell, group
// memberships and the public keys found in the account's authorized_keys
// file. Lookups never modify the host.
package hostuser
