// SPDX-License-Identifier: MPL-2.0

package executor

import "bytes"

// lineWriter splits a byte stream into lines for a LineFunc. A trailing
// partial line is held back until Flush.
type lineWriter struct {
	stream string
	emit   LineFunc
	buf    []byte
}

func newLineWriter(stream string, emit LineFunc) *lineWriter {
	return &lineWriter{stream: stream, emit: emit}
}

// Write implements io.Writer.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.stream, string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any unterminated last line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.stream, string(w.buf))
		w.buf = nil
	}
}
