package logger

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaylake_Logger_New(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, false)
	log.Debug("hidden")
	log.Info("pipeline: run completed", "tables", 5)
	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "pipeline: run completed")

	buf.Reset()
	New(&buf, true).Debug("visible")
	require.Contains(t, buf.String(), "visible")
}

func TestPlaylake_Logger_UTCMillisecondTimestamps(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	New(&buf, false).Info("records: read dataset")
	require.Regexp(t, regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z`), buf.String())
}
