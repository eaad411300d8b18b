// Package logging sets up the file-backed JSONL logger.
package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Runtime is an open logging sink: the logger plus the file handle
// that must outlive it.
type Runtime struct {
	Logger *slog.Logger
	Path   string
	file   *os.File
}

// Close releases the underlying log file.
func (r Runtime) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// New builds a JSONL logger under the kaiwa state dir. The level
// string comes from config; anything unrecognized means info.
func New(level string) (Runtime, error) {
	stateDir, err := StateDir()
	if err != nil {
		return Runtime{}, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return Runtime{}, err
	}

	path := filepath.Join(stateDir, "log.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return Runtime{}, err
	}

	opts := slog.HandlerOptions{Level: parseLevel(level)}
	return Runtime{
		Logger: slog.New(slog.NewJSONHandler(f, &opts)),
		Path:   path,
		file:   f,
	}, nil
}

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func parseLevel(level string) slog.Level {
	if lv, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return lv
	}
	return slog.LevelInfo
}

// StateDir resolves the kaiwa state directory, which holds the log
// file and optional debug artifacts. XDG_STATE_HOME wins when set,
// otherwise ~/.local/state.
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "kaiwa"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "state", "kaiwa"), nil
}
