// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ttyspool/ttyspool/lib/artifact"
	"github.com/ttyspool/ttyspool/lib/clock"
	"github.com/ttyspool/ttyspool/lib/ttylog"
)

// Kind distinguishes interactive shell sessions from one-shot command
// executions.
type Kind int

const (
	// KindInteractive is a shell session; peer input is recorded into
	// the transcript.
	KindInteractive Kind = iota
	// KindExec runs a single command; peer input is piped stdin and is
	// captured to a file instead of the transcript.
	KindExec
)

func (k Kind) String() string {
	if k == KindExec {
		return "exec"
	}
	return "interactive"
}

// Tag returns the transcript filename tag for the kind.
func (k Kind) Tag() string {
	if k == KindExec {
		return "e"
	}
	return "i"
}

// SessionID names one session: the transport (connection) identifier
// plus the channel number within it.
type SessionID struct {
	Transport string
	Channel   uint32
}

func (id SessionID) String() string {
	return fmt.Sprintf("%s-%d", id.Transport, id.Channel)
}

// TranscriptWriter appends session transcripts. Implementations own
// the encoding; the recorder guarantees ordering: one Open, any number
// of Writes, one Close per path.
type TranscriptWriter interface {
	Open(path string, startTime time.Time) error
	Write(path string, direction ttylog.Direction, timestamp time.Time, payload []byte) error
	Close(path string, endTime time.Time) error
}

// The ttylog writer is the production TranscriptWriter.
var _ TranscriptWriter = (*ttylog.Writer)(nil)

// Uploader pushes a finished transcript to remote object storage.
// Failures are logged and swallowed by the recorder.
type Uploader interface {
	Upload(ctx context.Context, bucket, localPath, objectName string) error
}

// Terminal is the recorder's handle to the terminal layer: it receives
// the peer's bytes and the end-of-input signal. The handle may be
// absent during partial teardown.
type Terminal interface {
	// Data delivers peer bytes to the terminal.
	Data(p []byte)
	// EOF signals end of peer input.
	EOF()
}

// State is the recorder's lifecycle state.
type State int

const (
	StateCreated State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Recorder. Store, Clock, and Logger are
// required. A nil Transcripts disables transcript logging; a nil
// Uploader disables remote archiving.
type Options struct {
	// Peer receives outbound bytes (the write half of the connection).
	Peer io.Writer
	// Store receives finalized capture files.
	Store *artifact.Store
	// Transcripts appends transcript records.
	Transcripts TranscriptWriter
	// TranscriptDir is the log root; transcripts are written under its
	// tty/ subdirectory.
	TranscriptDir string
	// CaptureDir stages stdin capture files until finalization,
	// conventionally the artifact store's own directory.
	CaptureDir string
	// ByteLimit caps total bytes received from the peer. Zero means
	// unlimited. Exceeding the cap forces a synthetic EOF to the
	// terminal instead of disconnecting.
	ByteLimit int64
	// Uploader archives the closed transcript.
	Uploader Uploader
	// Bucket is the remote bucket transcripts are archived into.
	Bucket string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Recorder mediates every byte of one session. See the package
// documentation for the sequential-delivery contract.
type Recorder struct {
	peer          io.Writer
	store         *artifact.Store
	transcripts   TranscriptWriter
	transcriptDir string
	captureDir    string
	byteLimit     int64
	uploader      Uploader
	bucket        string
	clock         clock.Clock
	logger        *slog.Logger

	state          State
	id             SessionID
	kind           Kind
	startTime      time.Time
	terminal       Terminal
	bytesReceived  int64
	limitTripped   bool
	transcriptPath string
	transcriptOpen bool
	transcriptSize int64
	captures       CaptureSet
}

// New returns a Recorder in the created state.
func New(options Options) *Recorder {
	return &Recorder{
		peer:          options.Peer,
		store:         options.Store,
		transcripts:   options.Transcripts,
		transcriptDir: options.TranscriptDir,
		captureDir:    options.CaptureDir,
		byteLimit:     options.ByteLimit,
		uploader:      options.Uploader,
		bucket:        options.Bucket,
		clock:         options.Clock,
		logger:        options.Logger,
	}
}

// Connect opens the session: it stamps the start time, opens the
// transcript when logging is enabled, and arms stdin capture for exec
// sessions. It returns an error only when the recorder is not freshly
// created; a transcript that fails to open is logged and the session
// simply runs unrecorded.
func (r *Recorder) Connect(id SessionID, kind Kind) error {
	if r.state != StateCreated {
		return fmt.Errorf("connecting session %s: recorder is %s", id, r.state)
	}
	r.id = id
	r.kind = kind
	r.startTime = r.clock.Now()
	r.state = StateOpen

	if r.transcripts != nil {
		r.transcriptPath = transcriptFile(r.transcriptDir, r.startTime, id, kind)
		if err := r.transcripts.Open(r.transcriptPath, r.startTime); err != nil {
			r.logger.Error("opening transcript failed",
				"session", r.id, "path", r.transcriptPath, "error", err)
		} else {
			r.transcriptOpen = true
			r.logger.Info("transcript opened", "session", r.id, "path", r.transcriptPath)
		}
	}

	if kind == KindExec {
		r.captures.ArmStdin(stdinCaptureFile(r.captureDir, r.startTime, id))
	}
	return nil
}

// Outbound records terminal output and forwards it to the peer.
// Output is always forwarded, recorded or not.
func (r *Recorder) Outbound(p []byte) {
	if r.transcriptOpen {
		if err := r.transcripts.Write(r.transcriptPath, ttylog.Output, r.clock.Now(), p); err != nil {
			r.logger.Error("writing transcript output failed", "session", r.id, "error", err)
		} else {
			r.transcriptSize += int64(len(p))
		}
	}
	if r.peer != nil {
		if _, err := r.peer.Write(p); err != nil {
			r.logger.Debug("forwarding output to peer failed", "session", r.id, "error", err)
		}
	}
}

// Inbound accounts, records, and forwards peer bytes. Once the byte
// limit trips the recorder ignores input for the rest of the session;
// the tripping chunk is recorded but not forwarded, and the terminal
// receives a single synthetic EOF in its place.
func (r *Recorder) Inbound(p []byte) {
	if r.limitTripped {
		return
	}
	r.bytesReceived += int64(len(p))

	if r.captures.StdinArmed() {
		if err := r.captures.AppendStdin(p); err != nil {
			r.logger.Error("appending stdin capture failed", "session", r.id, "error", err)
		}
	} else if r.transcriptOpen {
		if err := r.transcripts.Write(r.transcriptPath, ttylog.Input, r.clock.Now(), p); err != nil {
			r.logger.Error("writing transcript input failed", "session", r.id, "error", err)
		}
	}

	if r.byteLimit > 0 && r.bytesReceived > r.byteLimit {
		r.limitTripped = true
		r.logger.Info("received-byte limit exceeded, forcing EOF",
			"session", r.id, "received", r.bytesReceived, "limit", r.byteLimit)
		if r.terminal != nil {
			r.terminal.EOF()
		}
		return
	}

	if r.terminal != nil {
		r.terminal.Data(p)
	}
}

// EOF forwards end-of-input to the terminal if one is attached.
func (r *Recorder) EOF() {
	if r.terminal != nil {
		r.terminal.EOF()
	}
}

// SetTerminal attaches the terminal handle. The terminal may
// legitimately be absent while late data drains.
func (r *Recorder) SetTerminal(t Terminal) {
	r.terminal = t
}

// RegisterRedirect queues a shell-redirect output file for
// finalization at close. An empty label is derived from the file name.
func (r *Recorder) RegisterRedirect(path, label string) {
	r.captures.AddRedirect(path, label)
}

// BytesReceived reports the total bytes accounted from the peer.
func (r *Recorder) BytesReceived() int64 {
	return r.bytesReceived
}

// State reports the lifecycle state.
func (r *Recorder) State() State {
	return r.state
}

// Close finalizes the session: captured files drain into the store,
// the transcript closes and is archived, and every open flag clears.
// Close is idempotent; the transport layer may invoke it several
// times during teardown.
func (r *Recorder) Close(ctx context.Context, reason string) {
	if r.state == StateClosing || r.state == StateClosed {
		return
	}
	r.state = StateClosing

	r.captures.DrainStdin(r.store)
	r.captures.DrainRedirects(r.store)

	if r.transcriptOpen {
		endTime := r.clock.Now()
		if err := r.transcripts.Close(r.transcriptPath, endTime); err != nil {
			r.logger.Error("closing transcript failed",
				"session", r.id, "path", r.transcriptPath, "error", err)
		}
		r.transcriptOpen = false
		r.logger.Info("transcript closed",
			"session", r.id,
			"path", r.transcriptPath,
			"size", r.transcriptSize,
			"duration", endTime.Sub(r.startTime))

		if r.uploader != nil {
			if err := r.uploader.Upload(ctx, r.bucket, r.transcriptPath, r.transcriptPath); err != nil {
				r.logger.Warn("transcript upload failed",
					"session", r.id, "path", r.transcriptPath, "error", err)
			} else {
				r.logger.Info("transcript uploaded", "session", r.id, "path", r.transcriptPath)
			}
		}
	}

	r.state = StateClosed
	r.logger.Info("session closed",
		"session", r.id, "reason", reason, "received", r.bytesReceived)
}

const timestampLayout = "20060102-150405"

// transcriptFile names a session transcript:
// <dir>/tty/<start>-<transport>-<channel><kindTag>.log
func transcriptFile(dir string, start time.Time, id SessionID, kind Kind) string {
	name := fmt.Sprintf("%s-%s-%d%s.log",
		start.Format(timestampLayout), id.Transport, id.Channel, kind.Tag())
	return filepath.Join(dir, "tty", name)
}

// stdinCaptureFile names the staging file for an exec session's piped
// stdin: <dir>/<start>-<transport>-<channel>-stdin.log
func stdinCaptureFile(dir string, start time.Time, id SessionID) string {
	name := fmt.Sprintf("%s-%s-%d-stdin.log",
		start.Format(timestampLayout), id.Transport, id.Channel)
	return filepath.Join(dir, name)
}
