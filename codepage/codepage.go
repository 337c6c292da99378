// Package codepage resolves Windows code page numbers and IANA names to
// text encodings.
package codepage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

const DefaultCodePage = "65001"

var ErrUnknownEncoding = errors.New("unknown encoding")

var byCodePage = map[int]encoding.Encoding{
	65001: unicode.UTF8,
	1200:  unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	1201:  unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),

	949:   korean.EUCKR,
	51949: korean.EUCKR,
	932:   japanese.ShiftJIS,
	20932: japanese.EUCJP,
	51932: japanese.EUCJP,
	50220: japanese.ISO2022JP,
	936:   simplifiedchinese.GBK,
	52936: simplifiedchinese.HZGB2312,
	54936: simplifiedchinese.GB18030,
	950:   traditionalchinese.Big5,

	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	10000: charmap.Macintosh,
	20866: charmap.KOI8R,
	21866: charmap.KOI8U,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28593: charmap.ISO8859_3,
	28594: charmap.ISO8859_4,
	28595: charmap.ISO8859_5,
	28596: charmap.ISO8859_6,
	28597: charmap.ISO8859_7,
	28598: charmap.ISO8859_8,
	28599: charmap.ISO8859_9,
	28603: charmap.ISO8859_13,
	28605: charmap.ISO8859_15,
}

// Resolve maps a code page number ("949") or an IANA name ("EUC-KR") to an
// encoding. An empty value resolves to UTF-8.
func Resolve(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return unicode.UTF8, nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		if enc, ok := byCodePage[n]; ok {
			return enc, nil
		}
		return nil, fmt.Errorf("code page %d: %w", n, ErrUnknownEncoding)
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownEncoding)
	}
	return enc, nil
}

// LineTerminator returns the encoded form of "\n", without any byte order
// mark the encoder would prepend.
func LineTerminator(enc encoding.Encoding) ([]byte, error) {
	e := enc.NewEncoder()
	prefix, err := e.Bytes([]byte("a"))
	if err != nil {
		return nil, err
	}
	withNL, err := e.Bytes([]byte("a\n"))
	if err != nil {
		return nil, err
	}
	if len(withNL) <= len(prefix) {
		return nil, fmt.Errorf("encoding has no line terminator: %w", ErrUnknownEncoding)
	}
	return withNL[len(prefix):], nil
}

// Encoder wraps an encoding's encoder so characters the target cannot
// represent are replaced instead of failing the whole message.
type Encoder struct {
	e *encoding.Encoder
}

func NewEncoder(enc encoding.Encoding) *Encoder {
	return &Encoder{e: encoding.ReplaceUnsupported(enc.NewEncoder())}
}

func (e *Encoder) Encode(s string) ([]byte, error) {
	return e.e.Bytes([]byte(s))
}
