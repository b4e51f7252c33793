// SPDX-License-Identifier: MPL-2.0

// Package cmd is the iocage-provision command line.
//
// The root command takes a jail name and address, loads configuration,
// builds a provisioning request and hands it to the provisioner. The
// config subcommands inspect and initialize the configuration file.
package cmd
