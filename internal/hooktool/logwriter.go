// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package hooktool

import (
	"fmt"
	"io"

	"github.com/juju/loggo"
)

// LogWriter is a loggo.Writer sending records to juju-log, which makes them
// visible in `juju debug-log`.
type LogWriter struct {
	client   *Client
	fallback io.Writer
}

// NewLogWriter returns a LogWriter. Records that cannot be delivered to
// juju-log are written to fallback.
func NewLogWriter(client *Client, fallback io.Writer) *LogWriter {
	return &LogWriter{client: client, fallback: fallback}
}

// Write implements loggo.Writer.
func (w *LogWriter) Write(entry loggo.Entry) {
	message := fmt.Sprintf("%s: %s", entry.Module, entry.Message)
	if err := w.client.JujuLog(entry.Level.String(), message); err != nil && w.fallback != nil {
		// Logging the failure through loggo would recurse.
		fmt.Fprintf(w.fallback, "%s %s\n", entry.Level, message)
	}
}
