// SPDX-License-Identifier: MPL-2.0

// Package plan expands a resolved jail spec into the ordered steps that
// provision it.
//
// Host-level steps are plain iocage argument vectors. Steps that run inside
// the jail are "iocage exec <jail> /bin/sh" with a generated script on stdin.
// Every value interpolated into such a script is shell-quoted and the
// resulting script is parsed before it is accepted into a plan.
//
// Plans are deterministic: the same spec and options always yield the same
// steps in the same order. The order is significant and never changes once
// built: the jail exists before any property is set on it, and it runs before
// any package, service or account is touched inside it.
package plan
