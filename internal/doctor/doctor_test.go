package doctor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiwahq/kaiwa/internal/config"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckConfigReportsDefaultsWhenMissing(t *testing.T) {
	check := checkConfig(config.Loaded{Path: "/tmp/config.conf", Exists: false})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "running on defaults")

	check = checkConfig(config.Loaded{Path: "/tmp/config.conf", Exists: true})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, `loaded "/tmp/config.conf"`)
}

func TestCheckServiceUnset(t *testing.T) {
	check := checkService("recognition.url", "", "not set; the self channel is disabled")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "self channel is disabled")
}

func TestCheckServiceReachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	check := checkService("transcription.url", server.URL, "unused")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 200")
}

func TestCheckServiceMapsWebsocketScheme(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/asr", r.URL.Path)
		w.WriteHeader(http.StatusUpgradeRequired)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/asr"
	check := checkService("recognition.url", wsURL, "unused")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "HTTP 426")
}

func TestCheckServiceRequestFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	check := checkService("transcription.url", server.URL, "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "request failed")
}

func TestCheckServiceRejectsUnsupportedScheme(t *testing.T) {
	check := checkService("recognition.url", "ftp://host/asr", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, `unsupported scheme "ftp"`)
}

func TestCheckStateDirWritable(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	check := checkStateDir()
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "writable")
}

func TestCheckRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	check := checkRuntimeDir()
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "kaiwa.sock")

	t.Setenv("XDG_RUNTIME_DIR", "")
	check = checkRuntimeDir()
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "XDG_RUNTIME_DIR")
}

func TestCheckPulseFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkPulse(context.Background())
	require.False(t, check.Pass)
	require.Equal(t, "pulse", check.Name)
}

func TestRunCoversEveryConcern(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	report := Run(config.Loaded{Path: "/tmp/config.conf", Config: config.Default(), Exists: true})

	want := []string{
		"config",
		"pulse",
		"audio.input",
		"audio.monitor",
		"recognition.url",
		"transcription.url",
		"state.dir",
		"runtime.dir",
	}
	require.Len(t, report.Checks, len(want))
	for i, name := range want {
		require.Equal(t, name, report.Checks[i].Name)
	}

	// No pulse server and no service URLs: the report must fail.
	require.False(t, report.OK())
}
