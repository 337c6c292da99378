package source

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"golang.org/x/text/encoding"
)

const readBufferSize = 64 * 1024

// lineReader reads terminator-delimited lines while tracking the exact byte
// position following the last consumed line, independently of how far the
// underlying buffer has read ahead.
type lineReader struct {
	r    *bufio.Reader
	dec  *encoding.Decoder
	term []byte
	pos  int64
	// Index of the terminator byte searched for. Zero bytes are skipped,
	// they fill the high half of every ASCII code unit in UTF-16.
	scanAt int
}

func newLineReader(r io.Reader, pos int64, enc encoding.Encoding, term []byte) *lineReader {
	scanAt := len(term) - 1
	for i, b := range term {
		if b != 0 {
			scanAt = i
			break
		}
	}
	return &lineReader{
		r:      bufio.NewReaderSize(r, readBufferSize),
		dec:    enc.NewDecoder(),
		term:   term,
		pos:    pos,
		scanAt: scanAt,
	}
}

func (lr *lineReader) reset(r io.Reader, pos int64) {
	lr.r.Reset(r)
	lr.pos = pos
}

// readLine returns the next decoded line without its terminator or a
// trailing "\r". atEOF reports that the line was cut by the end of the
// stream rather than a terminator. io.EOF is returned only when no bytes
// were left at all.
func (lr *lineReader) readLine() (line string, atEOF bool, err error) {
	start := lr.pos
	var raw []byte
	for {
		chunk, rerr := lr.r.ReadSlice(lr.term[lr.scanAt])
		raw = append(raw, chunk...)
		if rerr == bufio.ErrBufferFull {
			continue
		}
		if rerr == io.EOF {
			lr.pos += int64(len(raw))
			if len(raw) == 0 {
				return "", true, io.EOF
			}
			line, err = lr.decode(raw, start)
			return line, true, err
		}
		if rerr != nil {
			return "", false, rerr
		}
		if lr.consumeTerminator(&raw) {
			break
		}
	}
	lr.pos += int64(len(raw))
	line, err = lr.decode(raw[:len(raw)-len(lr.term)], start)
	return line, false, err
}

// consumeTerminator reports whether raw, which ends with the scan byte,
// completes a terminator once the bytes following the scan byte are taken
// from the buffer. Multi-byte terminators only count when aligned on a code
// unit. The following bytes are consumed only on a match.
func (lr *lineReader) consumeTerminator(raw *[]byte) bool {
	if !bytes.HasSuffix(*raw, lr.term[:lr.scanAt+1]) {
		return false
	}
	rest := lr.term[lr.scanAt+1:]
	if (len(*raw)+len(rest))%len(lr.term) != 0 {
		return false
	}
	if len(rest) == 0 {
		return true
	}
	next, _ := lr.r.Peek(len(rest))
	if !bytes.Equal(next, rest) {
		return false
	}
	*raw = append(*raw, next...)
	lr.r.Discard(len(rest))
	return true
}

func (lr *lineReader) decode(raw []byte, start int64) (string, error) {
	b, err := lr.dec.Bytes(raw)
	if err != nil {
		return "", err
	}
	line := strings.TrimSuffix(string(b), "\r")
	if start == 0 {
		line = strings.TrimPrefix(line, "\ufeff")
	}
	return line, nil
}
