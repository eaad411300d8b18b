// Package asr speaks the streaming recognizer's websocket protocol:
// binary PCM frames upstream, JSON event frames downstream. It
// implements the recognition primitive; reconnection policy lives in
// the recognition package, not here.
package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kaiwahq/kaiwa/internal/recognition"
)

type Config struct {
	Logger *slog.Logger

	// URL is the ws:// or wss:// recognizer endpoint. Empty means the
	// capability is unavailable and Start fails fast.
	URL string

	// Token, when set, is sent as a bearer Authorization header.
	Token string

	// Language is carried as a query parameter so the server picks the
	// right model.
	Language string

	// Interim asks the server for partial hypotheses between finals.
	Interim bool

	Dialer *websocket.Dialer
}

// Session is one reusable websocket recognizer client. Each Start
// dials a fresh connection; signals from all connections arrive on the
// one Signals channel, at most one terminal signal per connection.
type Session struct {
	logger *slog.Logger
	url    string
	header http.Header
	dialer *websocket.Dialer

	signals chan recognition.Signal

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	return &Session{
		logger:  cfg.Logger,
		url:     buildURL(cfg.URL, cfg.Language, cfg.Interim),
		header:  header,
		dialer:  cfg.Dialer,
		signals: make(chan recognition.Signal, 64),
	}
}

func buildURL(raw, language string, interim bool) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if language != "" {
		q.Set("language", language)
	}
	q.Set("interim", strconv.FormatBool(interim))
	u.RawQuery = q.Encode()
	return u.String()
}

// Start dials the recognizer and begins reading events. The context
// bounds the dial only; the connection outlives it.
func (s *Session) Start(ctx context.Context) error {
	if s.url == "" {
		return recognition.ErrCapabilityUnsupported
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return errors.New("recognizer session already open")
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial recognizer: %w (status %s)", err, resp.Status)
		}
		return fmt.Errorf("dial recognizer: %w", err)
	}

	s.conn = conn
	go s.readLoop(conn)
	return nil
}

// SendAudio forwards one PCM chunk as a binary frame. While no
// connection is live the chunk is dropped silently so the caller's
// pump survives restart windows.
func (s *Session) SendAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("send audio frame: %w", err)
	}
	return nil
}

// Stop requests a graceful end: a close frame goes out and the server
// finishes the handshake, which surfaces as an ended signal from the
// read loop. Safe to call with nothing running.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		s.logger.Warn("close handshake failed, tearing down", "error", err.Error())
		s.conn.Close()
	}
}

// Abort tears the connection down without the close handshake.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	s.conn.Close()
	s.conn = nil
}

func (s *Session) Signals() <-chan recognition.Signal {
	return s.signals
}

// readLoop owns one connection from dial to teardown. It emits exactly
// one terminal signal: ended for a clean close with no prior server
// error, error for everything else. The connection slot is cleared
// before the terminal signal so a restart triggered by it can dial
// immediately.
func (s *Session) readLoop(conn *websocket.Conn) {
	var wireErr error

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			s.clearConn(conn)
			s.emit(terminalSignal(wireErr, err))
			return
		}

		ev, err := parseEvent(data)
		if err != nil {
			s.logger.Warn("skipping unparseable recognizer frame", "error", err.Error())
			continue
		}

		switch ev.Type {
		case "started":
			s.emit(recognition.Signal{Kind: recognition.SignalStarted})
		case "result":
			s.emit(recognition.Signal{Kind: recognition.SignalResult, Update: ev.update()})
		case "error":
			// The server closes after an error frame; latch it so the
			// close surfaces as a single error signal.
			wireErr = fmt.Errorf("recognizer: %s", ev.Message)
			s.logger.Warn("recognizer reported error", "message", ev.Message)
		default:
			s.logger.Warn("unknown recognizer event", "type", ev.Type)
		}
	}
}

func terminalSignal(wireErr, readErr error) recognition.Signal {
	if wireErr != nil {
		return recognition.Signal{Kind: recognition.SignalError, Err: wireErr}
	}
	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return recognition.Signal{Kind: recognition.SignalEnded}
	}
	return recognition.Signal{Kind: recognition.SignalError, Err: readErr}
}

func (s *Session) clearConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == conn {
		s.conn = nil
	}
}

func (s *Session) emit(sig recognition.Signal) {
	select {
	case s.signals <- sig:
	default:
		s.logger.Warn("dropping recognizer signal", "kind", string(sig.Kind))
	}
}
