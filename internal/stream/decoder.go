// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DonePayload marks the end of an OpenAI-style event stream.
const DonePayload = "[DONE]"

// Decoder converts raw chunks into complete lines.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	utf8    *encoding.Decoder
	pending []byte // trailing bytes of an incomplete UTF-8 sequence
	carry   string // text after the last newline
	buf     []byte
}

// NewDecoder returns a Decoder with empty buffers. A byte order mark at the
// start of the stream is dropped.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8BOM.NewDecoder()}
}

// Feed decodes chunk and returns every line it completes, without the
// trailing "\n". Text after the last newline is kept for the next call.
// Invalid UTF-8 is replaced with U+FFFD.
func (d *Decoder) Feed(chunk []byte) []string {
	text := d.decode(chunk)
	if text == "" {
		return nil
	}

	d.carry += text
	lines := strings.Split(d.carry, "\n")
	d.carry = lines[len(lines)-1]
	return lines[:len(lines)-1]
}

// Close discards any partial line and undecoded bytes and resets the
// Decoder for reuse. A trailing line without a newline is never returned.
func (d *Decoder) Close() {
	d.pending = nil
	d.carry = ""
	d.utf8.Reset()
}

func (d *Decoder) decode(chunk []byte) string {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}

	// Replacement characters are at most 3 bytes per input byte.
	if need := 3*len(src) + utf8.UTFMax; cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	dst := d.buf[:cap(d.buf)]

	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(dst, src, false)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch err {
		case nil:
		case transform.ErrShortSrc:
			// Incomplete sequence at the end; wait for the next chunk.
			d.pending = append([]byte(nil), src...)
			return out.String()
		case transform.ErrShortDst:
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, 2*len(dst))
				d.buf = dst
			}
		default:
			// The UTF-8 decoder replaces ill-formed input rather than failing.
			return out.String()
		}
	}
	return out.String()
}

// Payload extracts the data of an SSE "data:" line.
//
// The line is trimmed, must start with "data:", and the remainder is
// trimmed again. Empty payloads and the "[DONE]" sentinel report false.
func Payload(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") {
		return "", false
	}
	data := strings.TrimSpace(trimmed[len("data:"):])
	if data == "" || data == DonePayload {
		return "", false
	}
	return data, true
}
