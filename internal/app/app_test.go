package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaiwahq/kaiwa/internal/ipc"
)

func TestExecuteShowsUsageForHelpFlags(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		var stdout, stderr bytes.Buffer
		code := Execute(context.Background(), []string{flag}, &stdout, &stderr)
		require.Zero(t, code, flag)
		require.Contains(t, stdout.String(), "Usage:", flag)
		require.Empty(t, stderr.String(), flag)
	}
}

func TestExecuteVersionPrintsBinaryName(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Zero(t, code)
	require.Contains(t, stdout.String(), "kaiwa")
	require.Empty(t, stderr.String())
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
	require.Empty(t, stdout.String())
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	env := newRunnerEnv(t)

	code, stdout, stderr := env.execute(t, "status")
	require.Zero(t, code)
	require.Equal(t, "idle\n", stdout)
	require.Empty(t, stderr)
}

func TestRunnerStopReportsNoActiveConversation(t *testing.T) {
	env := newRunnerEnv(t)

	code, _, stderr := env.execute(t, "stop")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no active kaiwa conversation")
}

func TestRunnerForwardsVerbsToActiveDaemon(t *testing.T) {
	env := newRunnerEnv(t)
	commands := make(chan string, 8)

	startDaemonStub(t, env.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		if req.Command == ipc.CommandStatus {
			return ipc.Response{OK: true, State: "running"}
		}
		return ipc.Response{OK: true, Message: req.Command + " handled"}
	})

	for _, verb := range []string{"status", "stop", "transcript"} {
		code, _, stderr := env.execute(t, verb)
		require.Zero(t, code, verb)
		require.Empty(t, stderr, verb)
	}

	got := []string{<-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "transcript"}, got)
}

func TestRunnerStatusIncludesDaemonStatusLine(t *testing.T) {
	env := newRunnerEnv(t)

	startDaemonStub(t, env.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandStatus, req.Command)
		return ipc.Response{OK: true, State: "running", Message: "self=true other=true recognition=listening events=4 level=0.031"}
	})

	code, stdout, _ := env.execute(t, "status")
	require.Zero(t, code)
	require.Equal(t, "running (self=true other=true recognition=listening events=4 level=0.031)\n", stdout)
}

func TestRunnerStatusFallsBackToIdleWhenServerStateEmpty(t *testing.T) {
	env := newRunnerEnv(t)

	startDaemonStub(t, env.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandStatus, req.Command)
		return ipc.Response{OK: true, State: ""}
	})

	code, stdout, stderr := env.execute(t, "status")
	require.Zero(t, code)
	require.Equal(t, "idle\n", stdout)
	require.Empty(t, stderr)
}

func TestRunnerTranscriptPrintsRenderedText(t *testing.T) {
	env := newRunnerEnv(t)

	rendered := "[12:00:01] self: こんにちは\n[12:00:04] other: はい、どうも\n"
	startDaemonStub(t, env.socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, ipc.CommandTranscript, req.Command)
		return ipc.Response{OK: true, Message: rendered}
	})

	code, stdout, _ := env.execute(t, "transcript")
	require.Zero(t, code)
	require.Equal(t, rendered, stdout)
}

func TestTryForward(t *testing.T) {
	t.Run("returns daemon responses and surfaces refusals", func(t *testing.T) {
		socketPath := filepath.Join(t.TempDir(), "kaiwa.sock")
		startDaemonStub(t, socketPath, func(_ context.Context, req ipc.Request) ipc.Response {
			if req.Command == ipc.CommandStatus {
				return ipc.Response{OK: true, State: "running"}
			}
			return ipc.Response{OK: false, Error: "unsupported"}
		})

		resp, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
		require.True(t, handled)
		require.NoError(t, err)
		require.Equal(t, "running", resp.State)

		_, handled, err = tryForward(context.Background(), socketPath, ipc.CommandStop)
		require.True(t, handled)
		require.ErrorContains(t, err, "unsupported")
	})

	t.Run("reports unhandled when nothing listens", func(t *testing.T) {
		socketPath := filepath.Join(t.TempDir(), "kaiwa.sock")
		require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

		_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
		require.False(t, handled)
		require.NoError(t, err)
		require.FileExists(t, socketPath)
	})

	t.Run("wraps read failures as handled errors", func(t *testing.T) {
		socketPath := filepath.Join(t.TempDir(), "kaiwa.sock")
		listener, err := net.Listen("unix", socketPath)
		require.NoError(t, err)
		defer listener.Close()

		// Close the first connection before answering so Send fails
		// mid-exchange rather than on dial.
		done := make(chan struct{})
		go func() {
			defer close(done)
			if conn, acceptErr := listener.Accept(); acceptErr == nil {
				_ = conn.Close()
			}
		}()

		_, handled, err := tryForward(context.Background(), socketPath, ipc.CommandStatus)
		require.True(t, handled)
		require.ErrorContains(t, err, `forward command "status":`)

		<-done
		require.FileExists(t, socketPath)
	})
}

func TestIsDaemonAbsent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"missing socket file", os.ErrNotExist, true},
		{"wrapped dial error", fmt.Errorf("dial unix /run/kaiwa.sock: %w", os.ErrNotExist), true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"stringly missing file", errors.New("dial unix /tmp/kaiwa.sock: no such file or directory"), true},
		{"daemon answered badly", errors.New("read tcp: connection reset"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, isDaemonAbsent(tc.err))
		})
	}
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	env := newRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, stdout, _ := env.execute(t, "doctor")
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "config: loaded")
	require.Contains(t, stdout, "pulse")
	require.Contains(t, stdout, "recognition.url")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	env := newRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, _, stderr := env.execute(t, "devices")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "error:")
}

func TestRunnerRunCleansUpSocketWhenCaptureStartupFails(t *testing.T) {
	env := newRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	code, _, stderr := env.execute(t, "run")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "no capture channel could start")

	// The owner path must not leave its socket behind.
	_, statErr := os.Stat(env.socketPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestRunnerRunRefusesWhenDaemonAlreadyRunning(t *testing.T) {
	env := newRunnerEnv(t)

	startDaemonStub(t, env.socketPath, func(_ context.Context, _ ipc.Request) ipc.Response {
		return ipc.Response{OK: true, State: "running"}
	})

	code, _, stderr := env.execute(t, "run")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "already running")
}

type runnerEnv struct {
	configPath string
	socketPath string
}

// newRunnerEnv isolates XDG state and runtime dirs and writes a config
// with both service URLs set so no startup warnings reach stderr.
func newRunnerEnv(t *testing.T) runnerEnv {
	t.Helper()

	t.Setenv("XDG_STATE_HOME", t.TempDir())
	runtimeDir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	configPath := filepath.Join(t.TempDir(), "config.conf")
	contents := `// test fixture
{
  "recognition": { "url": "ws://127.0.0.1:2700/asr" },
  "transcription": { "url": "http://127.0.0.1:9000/v1/audio/transcriptions" },
}
`
	require.NoError(t, os.WriteFile(configPath, []byte(contents), 0o600))

	return runnerEnv{
		configPath: configPath,
		socketPath: filepath.Join(runtimeDir, "kaiwa.sock"),
	}
}

func (env runnerEnv) execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()

	var out, errOut bytes.Buffer
	runner := Runner{Stdout: &out, Stderr: &errOut}
	code = runner.Execute(context.Background(), append([]string{"--config", env.configPath}, args...))
	return code, out.String(), errOut.String()
}

func startDaemonStub(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) {
	t.Helper()

	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ipc.Serve(ctx, ln, ipc.HandlerFunc(handler), nil) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}
