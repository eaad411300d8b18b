// Package app dispatches CLI commands: run hosts the conversation
// daemon in the foreground, the control verbs forward to it over the
// unix socket, and the rest are local.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kaiwahq/kaiwa/internal/asr"
	"github.com/kaiwahq/kaiwa/internal/audio"
	"github.com/kaiwahq/kaiwa/internal/cli"
	"github.com/kaiwahq/kaiwa/internal/config"
	"github.com/kaiwahq/kaiwa/internal/dispatch"
	"github.com/kaiwahq/kaiwa/internal/doctor"
	"github.com/kaiwahq/kaiwa/internal/ipc"
	"github.com/kaiwahq/kaiwa/internal/logging"
	"github.com/kaiwahq/kaiwa/internal/recognition"
	"github.com/kaiwahq/kaiwa/internal/session"
	"github.com/kaiwahq/kaiwa/internal/transcribe"
	"github.com/kaiwahq/kaiwa/internal/transcript"
	"github.com/kaiwahq/kaiwa/internal/version"
)

const forwardTimeout = 220 * time.Millisecond

// Runner executes one parsed invocation against its output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer

	// Logger overrides the file-backed logger when set; tests use it.
	Logger *slog.Logger
}

// Execute parses argv and dispatches, with stdout/stderr as the only
// process wiring.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return Runner{Stdout: stdout, Stderr: stderr}.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, parseErr := cli.Parse(args)
	if parseErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", parseErr)
		fmt.Fprint(r.Stderr, cli.HelpText("kaiwa"))
		return 2
	}

	switch {
	case parsed.ShowHelp:
		fmt.Fprint(r.Stdout, cli.HelpText("kaiwa"))
		return 0
	case parsed.Command == cli.CommandVersion:
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	// Config comes first: the log level and state dir live in it.
	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logs, err := logging.New(cfgLoaded.Config.Logging.Level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: start logging: %v\n", err)
		return 1
	}
	defer func() { _ = logs.Close() }()

	logger := r.loggerOr(logs.Logger)
	r.replayWarnings(cfgLoaded.Warnings, logger)

	logger.Info("dispatching command",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logs.Path,
	)

	return r.dispatch(ctx, parsed, cfgLoaded, logger)
}

// loggerOr prefers an injected logger, falling back to the file one.
func (r Runner) loggerOr(fallback *slog.Logger) *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return fallback
}

func (r Runner) replayWarnings(warnings []config.Warning, logger *slog.Logger) {
	for _, w := range warnings {
		if w.Line > 0 {
			fmt.Fprintf(r.Stderr, "warning: line %d: %s\n", w.Line, w.Message)
		} else {
			fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
		}
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}
}

func (r Runner) dispatch(ctx context.Context, parsed cli.Parsed, cfgLoaded config.Loaded, logger *slog.Logger) int {
	switch parsed.Command {
	case cli.CommandDoctor:
		return r.commandDoctor(cfgLoaded)
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandTranscript:
		return r.forwardOrFail(ctx, ipc.CommandTranscript)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unhandled command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDoctor(cfgLoaded config.Loaded) int {
	report := doctor.Run(cfgLoaded)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return 1
	}
	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	case len(devices) == 0:
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		mark := " "
		if device.Default {
			mark = "*"
		}
		kind := "source"
		if device.Monitor {
			kind = "monitor"
		}
		fmt.Fprintf(r.Stdout, "%s id=%s | kind=%s | description=%q | state=%s | available=%s | muted=%s\n",
			mark, device.ID, kind, device.Description, device.State,
			yesNo(device.Available), yesNo(device.Muted))
	}
	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	// Without a runtime dir there is nowhere a daemon could be listening.
	sock, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, sock, ipc.CommandStatus)
	switch {
	case !handled:
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	state := resp.State
	if state == "" {
		state = "idle"
	}
	if resp.Message != "" {
		fmt.Fprintf(r.Stdout, "%s (%s)\n", state, resp.Message)
	} else {
		fmt.Fprintln(r.Stdout, state)
	}
	return 0
}

// socketPathOrFail resolves the control socket path, reporting the
// failure on stderr.
func (r Runner) socketPathOrFail() (string, bool) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return "", false
	}
	return socketPath, true
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, ok := r.socketPathOrFail()
	if !ok {
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	switch {
	case !handled:
		fmt.Fprintf(r.Stderr, "error: no active kaiwa conversation\n")
		return 1
	case err != nil:
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if msg := strings.TrimRight(resp.Message, "\n"); msg != "" {
		fmt.Fprintln(r.Stdout, msg)
	}
	return 0
}

// commandRun hosts the daemon: it claims the control socket, wires the
// conversation graph, and serves verbs until the conversation ends.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, ok := r.socketPathOrFail()
	if !ok {
		return 1
	}

	ln, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = ln.Close()
		_ = os.Remove(socketPath)
	}()

	controller, log := buildConversation(cfg, logger)

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- ipc.Serve(serveCtx, ln, controller, logger)
	}()

	runErr := controller.Run(ctx)
	stopServe()
	if serveErr := <-serveDone; serveErr != nil {
		fmt.Fprintf(r.Stderr, "error: control server failed: %v\n", serveErr)
		return 1
	}

	if runErr != nil {
		logger.Error("conversation failed", "error", runErr.Error())
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		return 1
	}

	logger.Info("conversation finished", "events", log.Len())
	if rendered := strings.TrimRight(log.Render(), "\n"); rendered != "" {
		fmt.Fprintln(r.Stdout, rendered)
	}
	return 0
}

// buildConversation wires the conversation object graph from config.
// Collaborators for unset service URLs stay inert rather than failing:
// the controller decides per channel what can run.
func buildConversation(cfg config.Config, logger *slog.Logger) (*session.Controller, *transcript.Log) {
	log := transcript.NewLog()

	dispatchCfg := dispatch.Config{
		Logger: logger,
		Filter: transcript.NewFilter(cfg.Filter.Extra...),
		Sink:   log,
	}
	if cfg.Transcription.URL != "" {
		dispatchCfg.Transcriber = transcribe.New(transcribe.Config{
			Logger:   logger,
			URL:      cfg.Transcription.URL,
			Token:    cfg.Transcription.Token,
			Model:    cfg.Transcription.Model,
			Language: cfg.Transcription.Language,
			Timeout:  time.Duration(cfg.Transcription.TimeoutMS) * time.Millisecond,
		})
	}
	dispatcher := dispatch.New(dispatchCfg)

	recognizer := asr.New(asr.Config{
		Logger:   logger,
		URL:      cfg.Recognition.URL,
		Token:    cfg.Recognition.Token,
		Language: cfg.Recognition.Language,
		Interim:  cfg.Recognition.Interim,
	})
	recognitionSession := recognition.NewSession(recognition.Config{
		Logger:       logger,
		Primitive:    recognizer,
		Sink:         dispatcher,
		RestartDelay: time.Duration(cfg.Recognition.RestartDelayMS) * time.Millisecond,
	})

	debugDir := ""
	if cfg.Debug.SaveSegments {
		if stateDir, err := logging.StateDir(); err == nil {
			debugDir = filepath.Join(stateDir, "segments")
		} else {
			logger.Warn("cannot resolve state dir, segment dumps disabled", "error", err.Error())
		}
	}

	controller := session.NewController(session.Config{
		Logger:           logger,
		Microphone:       &audio.MicrophoneSource{Logger: logger, Input: cfg.Audio.Input, Fallback: cfg.Audio.Fallback},
		System:           &audio.MonitorSource{Logger: logger, Sink: cfg.Audio.Sink},
		Recognition:      recognitionSession,
		AudioSink:        recognizer,
		Dispatcher:       dispatcher,
		Log:              log,
		Gain:             cfg.Segmenter.Gain,
		DisableKeepAlive: !cfg.Segmenter.KeepAlive,
		RotationInterval: time.Duration(cfg.Segmenter.IntervalMS) * time.Millisecond,
		DebugDir:         debugDir,
	})

	return controller, log
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err != nil {
		if isDaemonAbsent(err) {
			return ipc.Response{}, false, nil
		}
		return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
	}
	if !resp.OK {
		return resp, true, errors.New(resp.Error)
	}
	return resp, true, nil
}

// isDaemonAbsent reports errors that mean no daemon owns the socket,
// as opposed to a daemon that answered badly.
func isDaemonAbsent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(err.Error(), "no such file or directory")
}
