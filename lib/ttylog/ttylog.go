// Copyright 2026 The ttyspool Authors
// SPDX-License-Identifier: Apache-2.0

// Package ttylog reads and writes the ttylog transcript format: a flat
// stream of little-endian records, each a 24-byte header optionally
// followed by payload bytes. External replay tooling consumes these
// files, so the layout is fixed.
package ttylog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Record operation codes.
const (
	OpOpen  uint32 = 1
	OpClose uint32 = 2
	OpWrite uint32 = 3
	OpExec  uint32 = 4
)

// Direction labels which way the bytes of a write record flowed.
type Direction uint32

const (
	Input    Direction = 1
	Output   Direction = 2
	Interact Direction = 3
)

// headerLength is the fixed record header size: six little-endian
// uint32 fields (op, tty, length, direction, seconds, microseconds).
const headerLength = 24

// maxPayloadLength bounds decoded payloads so a corrupt length field
// cannot trigger a huge allocation.
const maxPayloadLength = 16 * 1024 * 1024

// Record is one decoded transcript entry.
type Record struct {
	Op        uint32
	Direction Direction
	Time      time.Time
	Payload   []byte
}

// Writer appends records to transcript files. It keeps no open
// handles: every call opens the file in append mode, writes one
// record, and closes it again, so one Writer serves any number of
// sessions as long as no two sessions share a path.
type Writer struct{}

// NewWriter returns a Writer.
func NewWriter() *Writer {
	return &Writer{}
}

// Open appends a session-open record, creating the file if needed.
func (w *Writer) Open(path string, startTime time.Time) error {
	return appendRecord(path, OpOpen, 0, startTime, nil)
}

// Write appends one data record carrying payload.
func (w *Writer) Write(path string, direction Direction, timestamp time.Time, payload []byte) error {
	return appendRecord(path, OpWrite, direction, timestamp, payload)
}

// Close appends a session-close record.
func (w *Writer) Close(path string, endTime time.Time) error {
	return appendRecord(path, OpClose, 0, endTime, nil)
}

// appendRecord marshals one record and appends it with a single write
// call. Records from concurrent sessions interleave at record
// granularity only because appends to O_APPEND files are atomic per
// write.
func appendRecord(path string, op uint32, direction Direction, timestamp time.Time, payload []byte) error {
	record := make([]byte, headerLength+len(payload))
	binary.LittleEndian.PutUint32(record[0:4], op)
	binary.LittleEndian.PutUint32(record[4:8], 0) // tty id, unused
	binary.LittleEndian.PutUint32(record[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(record[12:16], uint32(direction))
	binary.LittleEndian.PutUint32(record[16:20], uint32(timestamp.Unix()))
	binary.LittleEndian.PutUint32(record[20:24], uint32(timestamp.Nanosecond()/1000))
	copy(record[headerLength:], payload)

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	if _, err := file.Write(record); err != nil {
		file.Close()
		return fmt.Errorf("appending transcript record: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing transcript: %w", err)
	}
	return nil
}

// ReadRecord decodes one record from r. It returns io.EOF when r is
// exhausted at a record boundary; a record truncated mid-header or
// mid-payload decodes as an error wrapping io.ErrUnexpectedEOF.
func ReadRecord(r io.Reader) (Record, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("reading record header: %w", err)
	}
	length := binary.LittleEndian.Uint32(header[8:12])
	if length > maxPayloadLength {
		return Record{}, fmt.Errorf("record payload length %d exceeds maximum %d", length, maxPayloadLength)
	}
	record := Record{
		Op:        binary.LittleEndian.Uint32(header[0:4]),
		Direction: Direction(binary.LittleEndian.Uint32(header[12:16])),
	}
	seconds := binary.LittleEndian.Uint32(header[16:20])
	micros := binary.LittleEndian.Uint32(header[20:24])
	record.Time = time.Unix(int64(seconds), int64(micros)*1000)
	if length > 0 {
		record.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, record.Payload); err != nil {
			return Record{}, fmt.Errorf("reading record payload: %w", err)
		}
	}
	return record, nil
}

// ReadFile decodes every record in the transcript at path.
func ReadFile(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	var records []Record
	for {
		record, err := ReadRecord(file)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		records = append(records, record)
	}
}
