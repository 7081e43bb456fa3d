// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/ttyspool/ttyspool/lib/artifact"
	"github.com/ttyspool/ttyspool/lib/clock"
	"github.com/ttyspool/ttyspool/recorder"
)

// serverVersion is the identification string sent to clients during
// the handshake.
const serverVersion = "SSH-2.0-ttyspool"

// Options configures a Server. HostKey, Shell, and Store are
// required; Clock and Logger default to the real clock and
// slog.Default.
type Options struct {
	// HostKey identifies the server to clients.
	HostKey ssh.Signer
	// Users maps login names to passwords. Empty means any client may
	// connect.
	Users map[string]string
	// Shell is the argv sessions run; exec requests append
	// ["-c", command].
	Shell []string

	// Store receives finalized stdin captures and redirect files.
	Store *artifact.Store
	// Transcripts writes session transcripts; nil disables them.
	Transcripts recorder.TranscriptWriter
	// LogDir is the log root; transcripts land under its tty/
	// subdirectory.
	LogDir string
	// CaptureDir stages stdin captures until finalization.
	CaptureDir string
	// ByteLimit caps bytes received per session; zero means unlimited.
	ByteLimit int64
	// Uploader archives closed transcripts; nil disables archiving.
	Uploader recorder.Uploader
	// Bucket is the remote bucket for archived transcripts.
	Bucket string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server is the recording SSH gateway.
type Server struct {
	options Options
	config  *ssh.ServerConfig
	clock   clock.Clock
	logger  *slog.Logger
}

// New validates options and builds the SSH server configuration.
func New(options Options) (*Server, error) {
	var errs []error
	if options.HostKey == nil {
		errs = append(errs, errors.New("host key is required"))
	}
	if len(options.Shell) == 0 {
		errs = append(errs, errors.New("shell must name a command"))
	}
	if options.Store == nil {
		errs = append(errs, errors.New("artifact store is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	server := &Server{
		options: options,
		clock:   options.Clock,
		logger:  options.Logger,
	}

	config := &ssh.ServerConfig{ServerVersion: serverVersion}
	if len(options.Users) == 0 {
		config.NoClientAuth = true
	} else {
		config.PasswordCallback = server.checkPassword
	}
	config.AddHostKey(options.HostKey)
	server.config = config

	return server, nil
}

// checkPassword verifies a login against the static user table. The
// comparison runs whether or not the user exists.
func (s *Server) checkPassword(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
	want, ok := s.options.Users[meta.User()]
	if subtle.ConstantTimeCompare([]byte(want), password) == 1 && ok {
		return nil, nil
	}
	return nil, fmt.Errorf("authentication failed for %q", meta.User())
}

// Serve accepts connections until ctx is cancelled or the listener
// closes, then waits for in-flight connections to finish.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("gateway listening", "address", listener.Addr().String())

	var activeConnections sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		activeConnections.Add(1)
		go func() {
			defer activeConnections.Done()
			s.handleConn(ctx, conn)
		}()
	}

	activeConnections.Wait()
	return nil
}

// handleConn runs the SSH handshake and services session channels on
// one network connection. Each channel gets its own recorder; the
// channel counter keeps transcript names unique within the
// connection.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	transportID := uuid.NewString()[:8]
	logger := s.logger.With("transport", transportID)

	serverConn, channels, requests, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		logger.Debug("handshake failed", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}
	defer serverConn.Close()

	logger.Info("client connected",
		"remote", serverConn.RemoteAddr().String(),
		"user", serverConn.User(),
		"client_version", string(serverConn.ClientVersion()))

	go ssh.DiscardRequests(requests)

	var channelIndex uint32
	var sessions sync.WaitGroup
	for newChannel := range channels {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		channel, channelRequests, err := newChannel.Accept()
		if err != nil {
			logger.Debug("channel accept failed", "error", err)
			continue
		}

		id := recorder.SessionID{Transport: transportID, Channel: channelIndex}
		channelIndex++

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.runSession(ctx, id, channel, channelRequests, logger)
		}()
	}

	sessions.Wait()
	logger.Info("client disconnected", "remote", serverConn.RemoteAddr().String())
}
