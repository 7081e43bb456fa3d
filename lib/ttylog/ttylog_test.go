// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

package ttylog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.log")
	writer := NewWriter()

	start := time.Unix(1756000000, 123456*1000)
	if err := writer.Open(path, start); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := writer.Write(path, Input, start.Add(time.Second), []byte("ls\n")); err != nil {
		t.Fatalf("Write input: %v", err)
	}
	if err := writer.Write(path, Output, start.Add(2*time.Second), []byte("bin etc\n")); err != nil {
		t.Fatalf("Write output: %v", err)
	}
	if err := writer.Close(path, start.Add(3*time.Second)); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("record count: got %d, want 4", len(records))
	}

	if records[0].Op != OpOpen {
		t.Errorf("records[0].Op: got %d, want OpOpen", records[0].Op)
	}
	if !records[0].Time.Equal(start) {
		t.Errorf("records[0].Time: got %v, want %v", records[0].Time, start)
	}
	if records[1].Op != OpWrite || records[1].Direction != Input {
		t.Errorf("records[1]: got op %d direction %d, want OpWrite/Input", records[1].Op, records[1].Direction)
	}
	if got := string(records[1].Payload); got != "ls\n" {
		t.Errorf("records[1].Payload: got %q, want %q", got, "ls\n")
	}
	if records[2].Direction != Output {
		t.Errorf("records[2].Direction: got %d, want Output", records[2].Direction)
	}
	if got := string(records[2].Payload); got != "bin etc\n" {
		t.Errorf("records[2].Payload: got %q, want %q", got, "bin etc\n")
	}
	if records[3].Op != OpClose {
		t.Errorf("records[3].Op: got %d, want OpClose", records[3].Op)
	}
}

// TestHeaderLayout pins the on-disk encoding: six little-endian uint32
// fields followed by the payload.
func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.log")
	timestamp := time.Unix(1700000042, 987654*1000)
	if err := NewWriter().Write(path, Output, timestamp, []byte("hi")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) != headerLength+2 {
		t.Fatalf("record size: got %d, want %d", len(raw), headerLength+2)
	}

	fields := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"op", binary.LittleEndian.Uint32(raw[0:4]), OpWrite},
		{"tty", binary.LittleEndian.Uint32(raw[4:8]), 0},
		{"length", binary.LittleEndian.Uint32(raw[8:12]), 2},
		{"direction", binary.LittleEndian.Uint32(raw[12:16]), uint32(Output)},
		{"seconds", binary.LittleEndian.Uint32(raw[16:20]), 1700000042},
		{"micros", binary.LittleEndian.Uint32(raw[20:24]), 987654},
	}
	for _, field := range fields {
		if field.got != field.want {
			t.Errorf("%s: got %d, want %d", field.name, field.got, field.want)
		}
	}
	if !bytes.Equal(raw[headerLength:], []byte("hi")) {
		t.Errorf("payload: got %q, want %q", raw[headerLength:], "hi")
	}
}

func TestWriterAppendsAcrossCalls(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.log")
	writer := NewWriter()
	timestamp := time.Unix(1756000000, 0)

	if err := writer.Write(path, Input, timestamp, []byte("a")); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	if err := writer.Write(path, Input, timestamp, []byte("b")); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	records, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("record count: got %d, want 2", len(records))
	}
	if string(records[0].Payload) != "a" || string(records[1].Payload) != "b" {
		t.Errorf("payloads: got %q, %q, want \"a\", \"b\"", records[0].Payload, records[1].Payload)
	}
}

func TestReadRecordTruncatedPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	var header [headerLength]byte
	binary.LittleEndian.PutUint32(header[0:4], OpWrite)
	binary.LittleEndian.PutUint32(header[8:12], 10)
	binary.LittleEndian.PutUint32(header[12:16], uint32(Input))
	buf.Write(header[:])
	buf.WriteString("short")

	if _, err := ReadRecord(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadRecord on truncated payload: got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestReadRecordRejectsHugeLength(t *testing.T) {
	t.Parallel()

	var header [headerLength]byte
	binary.LittleEndian.PutUint32(header[0:4], OpWrite)
	binary.LittleEndian.PutUint32(header[8:12], maxPayloadLength+1)

	if _, err := ReadRecord(bytes.NewReader(header[:])); err == nil {
		t.Error("ReadRecord accepted an oversized length field")
	}
}

func TestReadRecordCleanEOF(t *testing.T) {
	t.Parallel()

	if _, err := ReadRecord(bytes.NewReader(nil)); !errors.Is(err, io.EOF) {
		t.Errorf("ReadRecord on empty reader: got %v, want io.EOF", err)
	}
}
