// SPDX-License-Identifier: MPL-2.0

// Package executor runs plan steps as external commands and reports what
// happened.
//
// Commands are started from explicit argument vectors; nothing is passed
// through a host shell. Standard output and standard error are captured in
// full and may additionally be streamed line by line while the command runs.
// A step is never retried.
package executor
