// Package audio turns a finished WAV file into a Wyoming audio event stream.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of a canonical RIFF/WAVE header.
const HeaderSize = 44

var ErrInvalidHeader = errors.New("audio: invalid wav header")

// Format is the stream description carried by a canonical WAV header.
type Format struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Width is the sample width in bytes.
func (f Format) Width() int { return f.BitsPerSample / 8 }

// ParseHeader decodes a fixed 44-byte canonical header. Extended or
// non-canonical layouts are not supported.
func ParseHeader(header []byte) (Format, error) {
	if len(header) < HeaderSize {
		return Format{}, fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(header))
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	return Format{
		Channels:      int(binary.LittleEndian.Uint16(header[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(header[24:28])),
		BitsPerSample: int(binary.LittleEndian.Uint16(header[34:36])),
	}, nil
}

// ReadHeader consumes and parses the header from r, leaving r at the first
// PCM byte.
func ReadHeader(r io.Reader) (Format, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Format{}, fmt.Errorf("%w: truncated", ErrInvalidHeader)
		}
		return Format{}, err
	}
	return ParseHeader(header)
}
