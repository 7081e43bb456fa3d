// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ttyspool/ttyspool/recorder"
)

// session services one SSH session channel. The recorder is not
// concurrency safe; the input pump, output pump, and teardown run on
// separate goroutines and serialize every recorder call through mu.
type session struct {
	server  *Server
	logger  *slog.Logger
	id      recorder.SessionID
	channel ssh.Channel

	mu  sync.Mutex
	rec *recorder.Recorder

	// pty holds the client's pty-req; nil selects pipe mode. Only the
	// request-servicing goroutine touches it.
	pty *ptyRequest

	// terminal and started are written once by the request goroutine
	// in start; every later reader is a goroutine spawned after that
	// write.
	terminal *procTerminal
	started  bool

	closeOnce sync.Once
}

// runSession wires a recorder to a fresh session channel and services
// its requests until the channel closes.
func (s *Server) runSession(ctx context.Context, id recorder.SessionID, channel ssh.Channel, requests <-chan *ssh.Request, logger *slog.Logger) {
	sess := &session{
		server:  s,
		logger:  logger.With("session", id.String()),
		id:      id,
		channel: channel,
		rec: recorder.New(recorder.Options{
			Peer:          channel,
			Store:         s.options.Store,
			Transcripts:   s.options.Transcripts,
			TranscriptDir: s.options.LogDir,
			CaptureDir:    s.options.CaptureDir,
			ByteLimit:     s.options.ByteLimit,
			Uploader:      s.options.Uploader,
			Bucket:        s.options.Bucket,
			Clock:         s.clock,
			Logger:        logger,
		}),
	}
	sess.serviceRequests(ctx, requests)
	sess.close(ctx, "channel closed")
}

// serviceRequests handles the channel's request stream. Reply is a
// no-op for requests that did not ask for one.
func (sess *session) serviceRequests(ctx context.Context, requests <-chan *ssh.Request) {
	for request := range requests {
		switch request.Type {
		case "pty-req":
			pty, err := parsePTYRequest(request.Payload)
			if err != nil {
				sess.logger.Debug("rejecting pty-req", "error", err)
				request.Reply(false, nil)
				continue
			}
			sess.pty = &pty
			request.Reply(true, nil)

		case "env":
			// Accepted and discarded: the session environment is
			// fixed by the gateway host.
			request.Reply(true, nil)

		case "shell":
			err := sess.start(ctx, recorder.KindInteractive, "")
			request.Reply(err == nil, nil)

		case "exec":
			command, err := parseExecRequest(request.Payload)
			if err != nil {
				sess.logger.Debug("rejecting exec", "error", err)
				request.Reply(false, nil)
				continue
			}
			err = sess.start(ctx, recorder.KindExec, command)
			request.Reply(err == nil, nil)

		case "window-change":
			columns, rows, err := parseWindowChange(request.Payload)
			if err == nil && sess.terminal != nil {
				sess.terminal.Resize(columns, rows)
			}
			request.Reply(err == nil, nil)

		default:
			request.Reply(false, nil)
		}
	}
}

// start opens the recorder, launches the session process, and spawns
// the byte pumps. A second shell or exec request on the same channel
// is refused.
func (sess *session) start(ctx context.Context, kind recorder.Kind, command string) error {
	if sess.started {
		return errors.New("session already started")
	}

	sess.mu.Lock()
	err := sess.rec.Connect(sess.id, kind)
	sess.mu.Unlock()
	if err != nil {
		return err
	}

	argv := make([]string, len(sess.server.options.Shell))
	copy(argv, sess.server.options.Shell)
	if kind == recorder.KindExec {
		argv = append(argv, "-c", command)
	}

	terminal, err := startProcess(argv, sess.pty)
	if err != nil {
		sess.logger.Error("starting session process failed", "argv", argv, "error", err)
		return err
	}
	sess.terminal = terminal
	sess.started = true

	sess.mu.Lock()
	sess.rec.SetTerminal(terminal)
	sess.mu.Unlock()

	sess.logger.Info("session started",
		"kind", kind.String(), "command", command, "pty", sess.pty != nil)

	// Client bytes flow through the recorder, which accounts for them
	// and forwards them to the terminal until the byte limit trips.
	go func() {
		buffer := make([]byte, 4096)
		for {
			n, readErr := sess.channel.Read(buffer)
			if n > 0 {
				sess.mu.Lock()
				sess.rec.Inbound(buffer[:n])
				sess.mu.Unlock()
			}
			if readErr != nil {
				sess.mu.Lock()
				sess.rec.EOF()
				sess.mu.Unlock()
				return
			}
		}
	}()

	// Terminal output flows through the recorder, which records it
	// and forwards it to the client. The pump ends once the process
	// has exited and its output has drained.
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		buffer := make([]byte, 4096)
		for {
			n, readErr := terminal.Read(buffer)
			if n > 0 {
				sess.mu.Lock()
				sess.rec.Outbound(buffer[:n])
				sess.mu.Unlock()
			}
			if readErr != nil {
				return
			}
		}
	}()

	// Report the exit status after the output has fully drained, then
	// tear the session down.
	go func() {
		status := terminal.Wait()
		<-outputDone
		payload := ssh.Marshal(exitStatusMsg{Status: uint32(status)})
		if _, sendErr := sess.channel.SendRequest("exit-status", false, payload); sendErr != nil {
			sess.logger.Debug("sending exit-status failed", "error", sendErr)
		}
		sess.logger.Info("session process exited", "status", status)
		sess.close(ctx, "process exited")
	}()

	return nil
}

// teardownTimeout bounds recorder finalization, archive upload
// included, once a session ends.
const teardownTimeout = time.Minute

// close tears the session down exactly once: the terminal releases
// its process and descriptors, the recorder finalizes captures and
// the transcript, and the channel closes. The recorder close is
// unconditional; a recorder whose process never spawned still owns an
// open transcript, and one that never connected closes without work.
func (sess *session) close(ctx context.Context, reason string) {
	sess.closeOnce.Do(func() {
		if sess.terminal != nil {
			sess.terminal.Close()
		}
		// Finalization runs to completion during server shutdown:
		// the recorder gets a context detached from server
		// cancellation, bounded by its own deadline.
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		sess.mu.Lock()
		sess.rec.Close(closeCtx, reason)
		sess.mu.Unlock()
		sess.channel.Close()
	})
}

// exitStatusMsg is the exit-status request payload (RFC 4254
// section 6.10).
type exitStatusMsg struct {
	Status uint32
}

// ptyRequest carries the pty-req fields the gateway acts on.
type ptyRequest struct {
	Term    string
	Columns uint32
	Rows    uint32
}

// ptyRequestMsg mirrors the pty-req wire payload (RFC 4254
// section 6.2).
type ptyRequestMsg struct {
	Term     string
	Columns  uint32
	Rows     uint32
	Width    uint32
	Height   uint32
	Modelist string
}

func parsePTYRequest(payload []byte) (ptyRequest, error) {
	var message ptyRequestMsg
	if err := ssh.Unmarshal(payload, &message); err != nil {
		return ptyRequest{}, fmt.Errorf("parsing pty-req payload: %w", err)
	}
	return ptyRequest{Term: message.Term, Columns: message.Columns, Rows: message.Rows}, nil
}

// execMsg mirrors the exec wire payload (RFC 4254 section 6.5).
type execMsg struct {
	Command string
}

func parseExecRequest(payload []byte) (string, error) {
	var message execMsg
	if err := ssh.Unmarshal(payload, &message); err != nil {
		return "", fmt.Errorf("parsing exec payload: %w", err)
	}
	return message.Command, nil
}

// windowChangeMsg mirrors the window-change wire payload (RFC 4254
// section 6.7).
type windowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

func parseWindowChange(payload []byte) (columns, rows uint32, err error) {
	var message windowChangeMsg
	if err := ssh.Unmarshal(payload, &message); err != nil {
		return 0, 0, fmt.Errorf("parsing window-change payload: %w", err)
	}
	return message.Columns, message.Rows, nil
}
