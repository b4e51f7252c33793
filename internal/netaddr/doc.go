// SPDX-License-Identifier: MPL-2.0

// Package netaddr turns the operator's "address/prefix" argument into the jail
// address and the default route it should use.
//
// When no gateway is given, the gateway is the first host address of the
// subnet (network base + 1). An explicit gateway is only checked for syntax
// and is otherwise passed through untouched.
package netaddr
