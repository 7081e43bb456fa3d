// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/ttyspool/ttyspool/lib/artifact"
	"github.com/ttyspool/ttyspool/lib/clock"
	"github.com/ttyspool/ttyspool/lib/ttylog"
	"github.com/ttyspool/ttyspool/recorder"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// gatewayConfig tunes the gateway under test. The zero value runs
// /bin/sh with open auth, no byte limit, and no archiver.
type gatewayConfig struct {
	users     map[string]string
	byteLimit int64
	shell     []string
	uploader  recorder.Uploader
	bucket    string
}

// testGateway is a running gateway plus its on-disk layout. shutdown
// starts the server's drain, as SIGTERM does in production; cleanup
// calls it again harmlessly.
type testGateway struct {
	address     string
	logDir      string
	downloadDir string
	shutdown    context.CancelFunc
}

// newTestGateway starts a gateway on a loopback port and shuts it
// down at cleanup. The download directory doubles as the store root
// and the capture staging area, mirroring production wiring.
func newTestGateway(t *testing.T, cfg gatewayConfig) testGateway {
	t.Helper()

	root := t.TempDir()
	logDir := filepath.Join(root, "log")
	downloadDir := filepath.Join(root, "downloads")
	if err := os.MkdirAll(filepath.Join(logDir, "tty"), 0o755); err != nil {
		t.Fatalf("creating log dir: %v", err)
	}

	store, err := artifact.NewStore(downloadDir, discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	signer, err := LoadOrGenerateHostKey(filepath.Join(root, "host_key"))
	if err != nil {
		t.Fatalf("LoadOrGenerateHostKey: %v", err)
	}

	shell := cfg.shell
	if shell == nil {
		shell = []string{"/bin/sh"}
	}
	server, err := New(Options{
		HostKey:     signer,
		Users:       cfg.users,
		Shell:       shell,
		Store:       store,
		Transcripts: ttylog.NewWriter(),
		LogDir:      logDir,
		CaptureDir:  downloadDir,
		ByteLimit:   cfg.byteLimit,
		Uploader:    cfg.uploader,
		Bucket:      cfg.bucket,
		Clock:       clock.Real(),
		Logger:      discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(ctx, listener)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("Serve returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after cancel")
		}
	})

	return testGateway{
		address:     listener.Addr().String(),
		logDir:      logDir,
		downloadDir: downloadDir,
		shutdown:    cancel,
	}
}

// dialTestGateway opens an SSH client connection that is closed at
// cleanup. A nil config connects as "tester" with no auth methods.
func dialTestGateway(t *testing.T, gw testGateway, config *ssh.ClientConfig) *ssh.Client {
	t.Helper()

	if config == nil {
		config = &ssh.ClientConfig{User: "tester"}
	}
	config.HostKeyCallback = ssh.InsecureIgnoreHostKey()
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	client, err := ssh.Dial("tcp", gw.address, config)
	if err != nil {
		t.Fatalf("ssh dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// waitFor polls until the condition holds or the deadline expires.
// Session teardown runs after the client sees the exit status, so
// on-disk effects need a grace period.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestExecSessionRoundTrip(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	input := "captured exec input\n"
	session.Stdin = strings.NewReader(input)
	output, err := session.Output("cat")
	if err != nil {
		t.Fatalf("running cat: %v", err)
	}
	if got := string(output); got != input {
		t.Errorf("output: got %q, want %q", got, input)
	}

	// Teardown finalizes the piped stdin into the store under its
	// content digest.
	sum := sha256.Sum256([]byte(input))
	digestPath := filepath.Join(gw.downloadDir, artifact.FormatDigest(sum))
	waitFor(t, "stdin capture in store", func() bool {
		_, statErr := os.Stat(digestPath)
		return statErr == nil
	})

	// The exec transcript carries the kind tag "e" and holds only
	// output records; piped stdin goes to the capture file instead.
	waitFor(t, "closed exec transcript", func() bool {
		entries, _ := filepath.Glob(filepath.Join(gw.logDir, "tty", "*e.log"))
		if len(entries) == 0 {
			return false
		}
		records, readErr := ttylog.ReadFile(entries[0])
		if readErr != nil || len(records) == 0 {
			return false
		}
		return records[len(records)-1].Op == ttylog.OpClose
	})

	entries, err := filepath.Glob(filepath.Join(gw.logDir, "tty", "*e.log"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("exec transcripts: got %v, want one", entries)
	}
	records, err := ttylog.ReadFile(entries[0])
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	for _, record := range records {
		if record.Op == ttylog.OpWrite && record.Direction == ttylog.Input {
			t.Errorf("exec transcript contains an input record: %q", record.Payload)
		}
	}
}

func TestInteractiveSessionWritesTranscript(t *testing.T) {
	t.Parallel()

	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skipf("no PTY support: %v", err)
	}

	gw := newTestGateway(t, gatewayConfig{})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe: %v", err)
	}
	var output bytes.Buffer
	session.Stdout = &output

	if err := session.RequestPty("xterm", 24, 80, ssh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty: %v", err)
	}
	if err := session.Shell(); err != nil {
		t.Fatalf("Shell: %v", err)
	}
	if _, err := io.WriteString(stdin, "echo recorded-marker\nexit\n"); err != nil {
		t.Fatalf("writing shell commands: %v", err)
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.Contains(output.String(), "recorded-marker") {
		t.Errorf("shell output %q missing marker", output.String())
	}

	// The transcript is named with the interactive kind tag and holds
	// the typed input.
	var transcript string
	waitFor(t, "closed interactive transcript", func() bool {
		entries, globErr := filepath.Glob(filepath.Join(gw.logDir, "tty", "*i.log"))
		if globErr != nil || len(entries) == 0 {
			return false
		}
		transcript = entries[0]
		records, readErr := ttylog.ReadFile(transcript)
		if readErr != nil || len(records) < 2 {
			return false
		}
		return records[len(records)-1].Op == ttylog.OpClose
	})

	records, err := ttylog.ReadFile(transcript)
	if err != nil {
		t.Fatalf("reading transcript: %v", err)
	}
	var typed []byte
	for _, record := range records {
		if record.Op == ttylog.OpWrite && record.Direction == ttylog.Input {
			typed = append(typed, record.Payload...)
		}
	}
	if !strings.Contains(string(typed), "echo recorded-marker") {
		t.Errorf("transcript input %q missing typed command", typed)
	}
}

func TestByteLimitForcesEOF(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{byteLimit: 10})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	input := strings.Repeat("x", 100)
	session.Stdin = strings.NewReader(input)
	output, err := session.Output("cat")
	if err != nil {
		t.Fatalf("running cat: %v", err)
	}
	if len(output) != 0 {
		t.Errorf("limit-tripping chunk was forwarded: %q", output)
	}

	// The tripping chunk is still captured in full.
	sum := sha256.Sum256([]byte(input))
	digestPath := filepath.Join(gw.downloadDir, artifact.FormatDigest(sum))
	waitFor(t, "captured input in store", func() bool {
		_, statErr := os.Stat(digestPath)
		return statErr == nil
	})
}

// TestSpawnFailureClosesTranscript covers a session whose process
// never starts: the recorder connects (and opens the transcript)
// before the spawn attempt, so teardown must still close it.
func TestSpawnFailureClosesTranscript(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{shell: []string{"/nonexistent/ttyspool-shell"}})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.Start("true"); err == nil {
		t.Error("exec with an unlaunchable shell succeeded")
	}
	session.Close()

	waitFor(t, "closed transcript after spawn failure", func() bool {
		entries, _ := filepath.Glob(filepath.Join(gw.logDir, "tty", "*e.log"))
		if len(entries) != 1 {
			return false
		}
		records, readErr := ttylog.ReadFile(entries[0])
		if readErr != nil || len(records) < 2 {
			return false
		}
		return records[0].Op == ttylog.OpOpen && records[len(records)-1].Op == ttylog.OpClose
	})
}

// TestWindowChangeAcknowledged sends window-change with want-reply
// set. Clients normally do not ask, but one that does must get an
// answer rather than wait forever.
func TestWindowChangeAcknowledged(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	type reply struct {
		ok  bool
		err error
	}
	replies := make(chan reply, 1)
	go func() {
		payload := ssh.Marshal(windowChangeMsg{Columns: 132, Rows: 43, Width: 1056, Height: 688})
		ok, sendErr := session.SendRequest("window-change", true, payload)
		replies <- reply{ok, sendErr}
	}()

	select {
	case r := <-replies:
		if r.err != nil {
			t.Fatalf("window-change request: %v", r.err)
		}
		if !r.ok {
			t.Error("window-change was rejected")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("window-change reply never arrived")
	}
}

// recordingUploader notes each upload and whether its context was
// still live at call time.
type recordingUploader struct {
	mu     sync.Mutex
	calls  int
	ctxErr error
	bucket string
}

func (u *recordingUploader) Upload(ctx context.Context, bucket, localPath, objectName string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.ctxErr = ctx.Err()
	u.bucket = bucket
	return nil
}

// TestShutdownStillArchivesTranscript begins the server drain while a
// session is in flight. The session's teardown upload must run on a
// live context, not the cancelled serve context.
func TestShutdownStillArchivesTranscript(t *testing.T) {
	t.Parallel()

	uploader := &recordingUploader{}
	gw := newTestGateway(t, gatewayConfig{uploader: uploader, bucket: "transcripts"})
	client := dialTestGateway(t, gw, nil)

	session, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		t.Fatalf("StdinPipe: %v", err)
	}
	if err := session.Start("cat"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	gw.shutdown()
	if err := stdin.Close(); err != nil {
		t.Fatalf("closing stdin: %v", err)
	}
	if err := session.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	waitFor(t, "archive upload", func() bool {
		uploader.mu.Lock()
		defer uploader.mu.Unlock()
		return uploader.calls > 0
	})
	uploader.mu.Lock()
	defer uploader.mu.Unlock()
	if uploader.ctxErr != nil {
		t.Errorf("upload ran on an ended context: %v", uploader.ctxErr)
	}
	if uploader.bucket != "transcripts" {
		t.Errorf("bucket: got %q, want %q", uploader.bucket, "transcripts")
	}
}

func TestPasswordAuthentication(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{users: map[string]string{"operator": "sekrit"}})

	reject := func(user, password string) {
		t.Helper()
		_, err := ssh.Dial("tcp", gw.address, &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.Password(password)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         5 * time.Second,
		})
		if err == nil {
			t.Errorf("dial succeeded for %s/%s", user, password)
		}
	}
	reject("operator", "wrong")
	reject("nobody", "sekrit")

	client, err := ssh.Dial("tcp", gw.address, &ssh.ClientConfig{
		User:            "operator",
		Auth:            []ssh.AuthMethod{ssh.Password("sekrit")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial with correct password: %v", err)
	}
	client.Close()
}

func TestNonSessionChannelsRejected(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, gatewayConfig{})
	client := dialTestGateway(t, gw, nil)

	if _, err := client.Dial("tcp", "127.0.0.1:9"); err == nil {
		t.Error("direct-tcpip channel was accepted")
	}
}

func TestServerRequiresHostKey(t *testing.T) {
	t.Parallel()

	store, err := artifact.NewStore(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	_, err = New(Options{Shell: []string{"/bin/sh"}, Store: store})
	if err == nil {
		t.Error("New accepted options without a host key")
	}
}
