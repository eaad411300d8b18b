// Package doctor runs readiness diagnostics: config, PulseAudio
// capture sources, speech service endpoints, and daemon directories.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kaiwahq/kaiwa/internal/audio"
	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/ipc"
	"github.com/kaiwahq/kaiwa/internal/logging"
)

// Check is a single pass/fail probe with its outcome text.
type Check struct {
	Name    string
	Pass    bool
	Message string // shown verbatim in the report line
}

// Report collects checks in the order they ran.
type Report struct {
	Checks []Check
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	return !slices.ContainsFunc(r.Checks, func(c Check) bool { return !c.Pass })
}

// String renders one "[OK] name: message" line per check.
func (r Report) String() string {
	lines := make([]string, 0, len(r.Checks))
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", status, check.Name, check.Message))
	}
	return strings.Join(lines, "\n")
}

// Run executes environment/config/service checks for a loaded config.
func Run(loaded config.Loaded) Report {
	ctx := context.Background()
	cfg := loaded.Config

	return Report{Checks: []Check{
		checkConfig(loaded),
		checkPulse(ctx),
		checkInputSelection(ctx, cfg),
		checkMonitorSelection(ctx, cfg),
		checkService("recognition.url", cfg.Recognition.URL,
			"not set; the self channel is disabled"),
		checkService("transcription.url", cfg.Transcription.URL,
			"not set; other-channel segments will not be transcribed"),
		checkStateDir(),
		checkRuntimeDir(),
	}}
}

func checkConfig(loaded config.Loaded) Check {
	if !loaded.Exists {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("no file at %q; running on defaults", loaded.Path)}
	}
	return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", loaded.Path)}
}

func checkPulse(ctx context.Context) Check {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return Check{Name: "pulse", Pass: false, Message: err.Error()}
	}
	return Check{Name: "pulse", Pass: true, Message: fmt.Sprintf("%d sources visible", len(devices))}
}

// checkInputSelection runs live device selection to surface
// selection/fallback issues for the self channel.
func checkInputSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.input", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message += " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.input", Pass: true, Message: message}
}

// checkMonitorSelection verifies the other channel has a monitor
// source to capture from.
func checkMonitorSelection(ctx context.Context, cfg config.Config) Check {
	monitor, err := audio.SelectMonitor(ctx, cfg.Audio.Sink)
	if err != nil {
		return Check{Name: "audio.monitor", Pass: false, Message: err.Error()}
	}
	return Check{Name: "audio.monitor", Pass: true, Message: fmt.Sprintf("monitor %q", monitor.ID)}
}

// checkService probes a speech endpoint with a plain GET. Any HTTP
// response proves something is listening: a websocket server answering
// 426 is as ready as a REST one answering 200.
func checkService(name, rawURL, unsetMsg string) Check {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Check{Name: name, Pass: false, Message: unsetMsg}
	}

	probeURL, err := httpProbeURL(trimmed)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}

	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(probeURL)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	return Check{Name: name, Pass: true, Message: fmt.Sprintf("reachable, HTTP %d from %s", resp.StatusCode, probeURL)}
}

// httpProbeURL maps a websocket endpoint to its HTTP equivalent so the
// reachability GET works for both services.
func httpProbeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("not a valid URL: %v", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func checkStateDir() Check {
	dir, err := logging.StateDir()
	if err != nil {
		return Check{Name: "state.dir", Pass: false, Message: err.Error()}
	}
	if err := writable(dir); err != nil {
		return Check{Name: "state.dir", Pass: false, Message: err.Error()}
	}
	return Check{Name: "state.dir", Pass: true, Message: fmt.Sprintf("writable %q", dir)}
}

func checkRuntimeDir() Check {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "runtime.dir", Pass: false, Message: err.Error()}
	}
	if err := writable(filepath.Dir(socketPath)); err != nil {
		return Check{Name: "runtime.dir", Pass: false, Message: err.Error()}
	}
	return Check{Name: "runtime.dir", Pass: true, Message: fmt.Sprintf("socket path %q", socketPath)}
}

// writable proves the directory exists (creating it if needed) and
// accepts new files.
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "kaiwa-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
