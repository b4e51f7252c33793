// SPDX-License-Identifier: MPL-2.0

// Command iocage-provision creates and provisions FreeBSD jails with iocage.
package main

import cmd "github.com/fnichol/iocage-provision/cmd/iocage-provision"

func main() {
	cmd.Execute()
}
