package client

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns a byte stream into text chunk by chunk. Bytes of a
// multi-byte character split across chunks are carried over to the next
// call instead of being decoded as invalid.
type Decoder struct {
	t     transform.Transformer
	carry []byte
}

func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode returns the text decodable from carry-over plus chunk. With final
// set, any incomplete trailing sequence is emitted as U+FFFD and the decoder
// is reset.
func (d *Decoder) Decode(chunk []byte, final bool) string {
	src := make([]byte, 0, len(d.carry)+len(chunk))
	src = append(src, d.carry...)
	src = append(src, chunk...)
	d.carry = d.carry[:0]

	if len(src) == 0 {
		if final {
			d.t.Reset()
		}
		return ""
	}

	// Every invalid byte may expand to a 3-byte replacement character
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	var out []byte

	for {
		nDst, nSrc, err := d.t.Transform(dst, src, final)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]

		switch err {
		case nil:
			if final {
				d.t.Reset()
			}
			return string(out)
		case transform.ErrShortDst:
			dst = make([]byte, 2*len(dst))
		case transform.ErrShortSrc:
			d.carry = append(d.carry, src...)
			return string(out)
		default:
			// The UTF-8 decoder replaces invalid input rather than failing
			d.t.Reset()
			return string(out) + string(utf8.RuneError)
		}
	}
}

// Pending returns the number of bytes held for the next call
func (d *Decoder) Pending() int {
	return len(d.carry)
}
