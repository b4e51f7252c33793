// SPDX-License-Identifier: MPL-2.0

// Package cueutil validates user CUE files against an embedded schema.
//
// The flow is always the same: compile the schema, compile the user data,
// unify the two under a root definition, validate, then decode.
//
//	//go:embed config_schema.cue
//	var schema []byte
//
//	res, err := cueutil.ParseAndDecode[map[string]any](
//	    schema, data, "#Config",
//	    cueutil.WithFilename(path),
//	    cueutil.WithConcrete(false),
//	)
//
// Errors name the offending field in JSON-path form, e.g.
// "config.cue: user.shell_packages.bash: conflicting values".
package cueutil
