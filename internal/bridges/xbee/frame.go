package xbee

import (
	"bufio"
	"fmt"
	"io"
)

// API frame framing bytes.
const (
	startDelimiter byte = 0x7E
	escapeByte     byte = 0x7D
	xon            byte = 0x11
	xoff           byte = 0x13
	escapeXOR      byte = 0x20
)

// API frame types used by this package.
const (
	FrameTxRequest   byte = 0x10
	FrameModemStatus byte = 0x8A
	FrameTxStatus    byte = 0x8B
	FrameRxPacket    byte = 0x90
	FrameIOSample    byte = 0x92
)

// maxFrameData bounds the length field of incoming frames. The largest
// ZigBee frame is well under this.
const maxFrameData = 512

// Checksum returns 0xFF minus the low byte of the sum of frame data.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// EncodeFrame wraps frame data (type byte first) in delimiter, length and
// checksum. With escaped set, it applies API mode 2 escaping to every byte
// after the start delimiter.
func EncodeFrame(data []byte, escaped bool) []byte {
	raw := make([]byte, 0, len(data)+4)
	raw = append(raw, startDelimiter, byte(len(data)>>8), byte(len(data)))
	raw = append(raw, data...)
	raw = append(raw, Checksum(data))

	if !escaped {
		return raw
	}

	out := make([]byte, 1, len(raw)+8)
	out[0] = startDelimiter
	for _, b := range raw[1:] {
		if needsEscape(b) {
			out = append(out, escapeByte, b^escapeXOR)
			continue
		}
		out = append(out, b)
	}
	return out
}

func needsEscape(b byte) bool {
	switch b {
	case startDelimiter, escapeByte, xon, xoff:
		return true
	}
	return false
}

// FrameReader reads API frames from a byte stream.
type FrameReader struct {
	r       *bufio.Reader
	escaped bool
}

// NewFrameReader creates a reader for API mode 1 (escaped false) or
// mode 2 (escaped true).
func NewFrameReader(r io.Reader, escaped bool) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), escaped: escaped}
}

// ReadFrame returns the next frame's data, type byte first.
//
// Bytes before a start delimiter are skipped. ErrChecksum, ErrInvalidFrame
// and ErrFrameTooLarge are recoverable: the next call resynchronises on the
// following delimiter. Any other error comes from the underlying reader.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == startDelimiter {
			break
		}
	}

	hi, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	lo, err := fr.readByte()
	if err != nil {
		return nil, err
	}

	n := int(hi)<<8 | int(lo)
	if n == 0 {
		return nil, fmt.Errorf("%w: zero length", ErrInvalidFrame)
	}
	if n > maxFrameData {
		return nil, fmt.Errorf("%w: length %d", ErrFrameTooLarge, n)
	}

	data := make([]byte, n)
	for i := range data {
		if data[i], err = fr.readByte(); err != nil {
			return nil, err
		}
	}

	sum, err := fr.readByte()
	if err != nil {
		return nil, err
	}
	if want := Checksum(data); sum != want {
		return nil, fmt.Errorf("%w: got 0x%02X, want 0x%02X", ErrChecksum, sum, want)
	}
	return data, nil
}

// readByte reads one logical byte, undoing escaping in mode 2. In mode 2
// an unescaped delimiter means the previous frame was cut short; it is
// pushed back so the next ReadFrame starts there.
func (fr *FrameReader) readByte() (byte, error) {
	b, err := fr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if !fr.escaped {
		return b, nil
	}

	switch b {
	case startDelimiter:
		_ = fr.r.UnreadByte() //nolint:errcheck // Always valid directly after ReadByte
		return 0, fmt.Errorf("%w: truncated by start delimiter", ErrInvalidFrame)
	case escapeByte:
		next, err := fr.r.ReadByte()
		if err != nil {
			return 0, err
		}
		return next ^ escapeXOR, nil
	default:
		return b, nil
	}
}
