// Package framing implements RFC 6587 octet-counting framing: every message
// is sent as its ASCII decimal byte length, a single space and the payload.
package framing

import (
	"bufio"
	"errors"
	"strconv"
)

const sp = 0x20

// A length prefix never needs more digits than this.
const maxLengthDigits = 10

var (
	ErrorTooLarge  = errors.New("too large")
	ErrorMalformed = errors.New("malformed frame header")
)

// AppendFrame appends the framed payload to dst. The length prefix is
// always ASCII, whatever encoding the payload is in.
func AppendFrame(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, sp)
	return append(dst, payload...)
}

// WriteFrame writes one framed payload and flushes it.
func WriteFrame(w *bufio.Writer, payload []byte) error {
	var hdr [maxLengthDigits + 1]byte
	h := strconv.AppendInt(hdr[:0], int64(len(payload)), 10)
	h = append(h, sp)
	if _, err := w.Write(h); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// Decoder reassembles frames from a byte stream delivered in arbitrary
// chunks.
type Decoder struct {
	MaxSize int
	pending []byte
}

// Add consumes a chunk of the stream and returns every frame it completed.
// After an error the decoder is reset and the stream should be dropped.
func (d *Decoder) Add(data []byte) ([][]byte, error) {
	d.pending = append(d.pending, data...)
	toReport := [][]byte{}
	for {
		hdrEnd := -1
		for i, b := range d.pending {
			if b == sp {
				hdrEnd = i
				break
			}
			if b < '0' || b > '9' || i >= maxLengthDigits {
				d.pending = nil
				return toReport, ErrorMalformed
			}
		}
		if hdrEnd == -1 {
			break
		}
		if hdrEnd == 0 {
			d.pending = nil
			return toReport, ErrorMalformed
		}
		size, err := strconv.Atoi(string(d.pending[:hdrEnd]))
		if err != nil {
			d.pending = nil
			return toReport, ErrorMalformed
		}
		if d.MaxSize != 0 && size > d.MaxSize {
			d.pending = nil
			return toReport, ErrorTooLarge
		}
		if len(d.pending) < hdrEnd+1+size {
			break
		}
		frame := make([]byte, size)
		copy(frame, d.pending[hdrEnd+1:])
		toReport = append(toReport, frame)
		d.pending = d.pending[hdrEnd+1+size:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return toReport, nil
}
