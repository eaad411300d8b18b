package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// requestDeadline bounds one client roundtrip. A stalled client is cut
// off rather than holding a daemon goroutine open.
const requestDeadline = 5 * time.Second

// Handler answers one decoded control command.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc lets an ordinary function serve as a Handler.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response { return f(ctx, req) }

// Serve accepts unix-socket clients until context cancellation or
// listener close. Each connection carries exactly one request.
func Serve(ctx context.Context, ln net.Listener, handler Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
		case errors.Is(err, net.ErrClosed), ctx.Err() != nil:
			wg.Wait()
			return nil
		default:
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			answer(ctx, conn, handler, logger)
		}()
	}
}

// answer handles one connection: read a request line, run the handler,
// write the response.
func answer(ctx context.Context, conn net.Conn, handler Handler, logger *slog.Logger) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestDeadline))

	req, err := readRequest(conn)
	if err != nil {
		writeResponse(conn, Response{OK: false, Error: err.Error()})
		return
	}

	logger.Debug("control request", "command", req.Command)
	writeResponse(conn, handler.Handle(ctx, req))
}

func readRequest(conn net.Conn) (Request, error) {
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return Request{}, fmt.Errorf("read request: %v", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %v", err)
	}
	return req, nil
}

func writeResponse(conn net.Conn, resp Response) {
	_ = json.NewEncoder(conn).Encode(resp)
}
