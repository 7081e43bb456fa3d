// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ttyspool/ttyspool/recorder"
)

// endOfTransmission is the EOT control byte. Written to a PTY at the
// start of a line it makes the line discipline report end of input.
const endOfTransmission = 0x04

// procTerminal runs the session command and adapts it to the
// recorder's Terminal interface. Interactive sessions run on a PTY;
// exec sessions run on pipes with stdout and stderr merged.
type procTerminal struct {
	cmd *exec.Cmd

	// master is the PTY master. Nil in pipe mode.
	master *os.File

	// stdin is the write end of the child's stdin pipe. Nil in PTY
	// mode, where input goes through the master.
	stdin *os.File

	// output is the read side of session output: the master in PTY
	// mode, the merged stdout/stderr pipe otherwise.
	output *os.File

	// Input delivery is decoupled from the child: Data and EOF enqueue
	// and writeLoop drains the queue into the child's stdin. A child
	// that stops reading its input therefore cannot stall the caller,
	// whose lock also gates the session's output path.
	writeMu    sync.Mutex
	writeQueue [][]byte
	writeEOF   bool
	wake       chan struct{}
}

var _ recorder.Terminal = (*procTerminal)(nil)

// startProcess launches argv as the session process. A non-nil pty
// request selects PTY mode.
func startProcess(argv []string, pty *ptyRequest) (*procTerminal, error) {
	if pty != nil {
		return startPTY(argv, pty)
	}
	return startPiped(argv)
}

// startPiped launches argv with plain pipes. The parent's copies of
// the child-side pipe ends are closed after the fork so that the
// output read end sees EOF once the child exits.
func startPiped(argv []string) (*procTerminal, error) {
	outputRead, outputWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	inputRead, inputWrite, err := os.Pipe()
	if err != nil {
		outputRead.Close()
		outputWrite.Close()
		return nil, fmt.Errorf("creating input pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = inputRead
	cmd.Stdout = outputWrite
	cmd.Stderr = outputWrite

	if err := cmd.Start(); err != nil {
		outputRead.Close()
		outputWrite.Close()
		inputRead.Close()
		inputWrite.Close()
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	outputWrite.Close()
	inputRead.Close()

	terminal := &procTerminal{
		cmd:    cmd,
		stdin:  inputWrite,
		output: outputRead,
		wake:   make(chan struct{}, 1),
	}
	go terminal.writeLoop()
	return terminal, nil
}

// startPTY launches argv as a session leader on a fresh PTY sized to
// the client's request.
func startPTY(argv []string, request *ptyRequest) (*procTerminal, error) {
	master, slavePath, err := openPTY()
	if err != nil {
		return nil, fmt.Errorf("allocating PTY: %w", err)
	}

	slave, err := os.OpenFile(slavePath, os.O_RDWR, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("opening PTY slave %s: %w", slavePath, err)
	}

	// Size the PTY before the child starts so the shell never sees a
	// 0x0 terminal.
	if request.Columns > 0 || request.Rows > 0 {
		if err := setWindowSize(int(master.Fd()), uint16(request.Columns), uint16(request.Rows)); err != nil {
			slave.Close()
			master.Close()
			return nil, fmt.Errorf("setting initial window size: %w", err)
		}
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	if request.Term != "" {
		cmd.Env = append(os.Environ(), "TERM="+request.Term)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
		Ctty:    0, // fd 0 in child = slave PTY
	}

	if err := cmd.Start(); err != nil {
		slave.Close()
		master.Close()
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}
	// Close slave in parent; the child holds its own copy via fd 0/1/2.
	slave.Close()

	terminal := &procTerminal{
		cmd:    cmd,
		master: master,
		output: master,
		wake:   make(chan struct{}, 1),
	}
	go terminal.writeLoop()
	return terminal, nil
}

// Data queues client bytes for the process. The bytes were already
// recorded upstream; anything queued after EOF is dropped.
func (t *procTerminal) Data(p []byte) {
	chunk := make([]byte, len(p))
	copy(chunk, p)

	t.writeMu.Lock()
	if t.writeEOF {
		t.writeMu.Unlock()
		return
	}
	t.writeQueue = append(t.writeQueue, chunk)
	t.writeMu.Unlock()
	t.notify()
}

// EOF marks end of client input. The marker is delivered after every
// queued chunk: EOT on the PTY, stdin close otherwise. Safe to call
// more than once; only the first marker is delivered.
func (t *procTerminal) EOF() {
	t.writeMu.Lock()
	t.writeEOF = true
	t.writeMu.Unlock()
	t.notify()
}

func (t *procTerminal) notify() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains queued input into the child's stdin and delivers
// the EOF marker after the final chunk. A failed write means the
// process end is gone; the backlog is discarded and the loop ends.
func (t *procTerminal) writeLoop() {
	for range t.wake {
		for {
			t.writeMu.Lock()
			if len(t.writeQueue) == 0 {
				eof := t.writeEOF
				t.writeMu.Unlock()
				if eof {
					t.deliverEOF()
					return
				}
				break
			}
			chunk := t.writeQueue[0]
			t.writeQueue = t.writeQueue[1:]
			t.writeMu.Unlock()

			if _, err := t.input().Write(chunk); err != nil {
				t.writeMu.Lock()
				t.writeEOF = true
				t.writeQueue = nil
				t.writeMu.Unlock()
				t.deliverEOF()
				return
			}
		}
	}
}

// input is the descriptor client bytes are written to.
func (t *procTerminal) input() *os.File {
	if t.master != nil {
		return t.master
	}
	return t.stdin
}

func (t *procTerminal) deliverEOF() {
	if t.master != nil {
		_, _ = t.master.Write([]byte{endOfTransmission})
		return
	}
	_ = t.stdin.Close()
}

// Read returns session output. A PTY master read fails with EIO once
// the child exits and the slave side closes; that is the normal end
// of stream and is reported as io.EOF.
func (t *procTerminal) Read(p []byte) (int, error) {
	n, err := t.output.Read(p)
	if err != nil && t.master != nil && errors.Is(err, unix.EIO) {
		return n, io.EOF
	}
	return n, err
}

// Wait blocks until the process exits and returns its exit code. A
// process that died to a signal reports 255, matching what SSH
// clients see for an abnormal end.
func (t *procTerminal) Wait() int {
	err := t.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}
	return 255
}

// Resize applies new terminal dimensions. A no-op in pipe mode.
// Resize failure means the PTY is already gone and the session is
// ending.
func (t *procTerminal) Resize(columns, rows uint32) {
	if t.master == nil {
		return
	}
	_ = setWindowSize(int(t.master.Fd()), uint16(columns), uint16(rows))
}

// Close releases the terminal's descriptors and kills the process if
// it is still running. Closing the descriptors unblocks any reader or
// writer stuck on them; the trailing EOF wakes writeLoop so it can
// exit even when nothing was ever queued.
func (t *procTerminal) Close() {
	if t.master != nil {
		t.master.Close()
	} else {
		t.stdin.Close()
		t.output.Close()
	}
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	t.EOF()
}
