package notify_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/jrsteele09/go-auth-client/notify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewLogNotifier(zerolog.New(&buf))

	n.Notify(notify.Error("Session Expired", "Please log in again."))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "Session Expired", entry["title"])
	require.Equal(t, "Please log in again.", entry["message"])

	buf.Reset()
	n.Notify(notify.Info("Login cancelled", "The login popup was closed."))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
}

func TestRecorder(t *testing.T) {
	var r notify.Recorder
	r.Notify(notify.Info("a", ""))
	r.Notify(notify.Error("b", ""))

	require.Equal(t, []string{"a", "b"}, r.Titles())
	require.Equal(t, notify.LevelError, r.Notices()[1].Level)

	r.Reset()
	require.Empty(t, r.Notices())
}
