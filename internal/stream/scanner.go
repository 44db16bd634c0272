// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read size used against the response body.
const DefaultChunkSize = 4096

// Scanner yields the payloads of an event stream read from an io.Reader.
//
//	sc := stream.NewScanner(ctx, resp.Body)
//	for sc.Next() {
//		handle(sc.Payload())
//	}
//	if err := sc.Err(); err != nil { ... }
//
// Every call to Next checks ctx first; once ctx is done no further payload
// is returned, even one already buffered.
type Scanner struct {
	ctx     context.Context
	r       io.Reader
	dec     *Decoder
	buf     []byte
	queue   []string
	payload string
	err     error
	eof     bool
}

// NewScanner returns a Scanner reading r in DefaultChunkSize chunks.
func NewScanner(ctx context.Context, r io.Reader) *Scanner {
	return NewScannerSize(ctx, r, DefaultChunkSize)
}

// NewScannerSize returns a Scanner with a custom read size.
func NewScannerSize(ctx context.Context, r io.Reader, chunkSize int) *Scanner {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Scanner{
		ctx: ctx,
		r:   r,
		dec: NewDecoder(),
		buf: make([]byte, chunkSize),
	}
}

// Next advances to the next payload. It returns false at end of stream,
// on a read error, or when the context is done; Err distinguishes these.
func (s *Scanner) Next() bool {
	for {
		if err := s.ctx.Err(); err != nil {
			if s.err == nil {
				s.err = err
			}
			s.queue = nil
			return false
		}

		if len(s.queue) > 0 {
			s.payload = s.queue[0]
			s.queue = s.queue[1:]
			return true
		}

		if s.eof || s.err != nil {
			return false
		}

		n, err := s.r.Read(s.buf)
		if n > 0 && s.ctx.Err() == nil {
			for _, line := range s.dec.Feed(s.buf[:n]) {
				if payload, ok := Payload(line); ok {
					s.queue = append(s.queue, payload)
				}
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			s.eof = true
			s.dec.Close()
		case err != nil:
			s.err = err
			s.dec.Close()
		}
	}
}

// Payload returns the payload found by the last successful Next.
func (s *Scanner) Payload() string {
	return s.payload
}

// Err returns the read error or context error that stopped the Scanner,
// or nil after a clean end of stream.
func (s *Scanner) Err() error {
	return s.err
}
