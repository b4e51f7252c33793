// SPDX-License-Identifier: MPL-2.0

// Package provision drives one jail provisioning run. A Provisioner
// validates the request, resolves defaults, builds the plan and executes it
// step by step, stopping at the first failing step. Progress is tracked by an
// explicit state machine whose transitions are a pure function of state and
// event.
package provision
