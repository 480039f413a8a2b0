// Package wyoming implements the framing and event model of the Wyoming
// voice-assistant protocol.
//
// A frame on the wire is a JSON header line, an optional JSON data block and an
// optional raw binary payload:
//
//	<header-json>\n[<data-json, data_length bytes>][<payload, payload_length bytes>]
package wyoming

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ProtocolVersion is written into the header of every outgoing frame.
const ProtocolVersion = "1.5.2"

// Defaults applied to zero fields of Limits.
const (
	DefaultMaxLineBytes    = 8192
	DefaultMaxDataBytes    = 1 << 20
	DefaultMaxPayloadBytes = 16 << 20
)

var (
	ErrLineTooLong     = errors.New("wyoming: header line exceeds limit")
	ErrFrameTooLarge   = errors.New("wyoming: declared frame length exceeds limit")
	ErrMalformedHeader = errors.New("wyoming: malformed header")
	ErrMalformedData   = errors.New("wyoming: malformed data block")
)

// Header is the first line of a frame.
type Header struct {
	Type          string          `json:"type"`
	Version       string          `json:"version,omitempty"`
	DataLength    int             `json:"data_length,omitempty"`
	PayloadLength int             `json:"payload_length,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`

	raw []byte
}

// Frame is one decoded wire message. Data always holds the effective data
// object: the separate data block when one was sent, otherwise the inline
// header data object, otherwise the header line itself.
type Frame struct {
	Header  Header
	Data    json.RawMessage
	Payload []byte
}

// Limits bounds what a Reader accepts from the peer. Declared data and
// payload lengths are checked before anything is allocated.
type Limits struct {
	MaxLine    int
	MaxData    int
	MaxPayload int
}

func (l Limits) withDefaults() Limits {
	if l.MaxLine <= 0 {
		l.MaxLine = DefaultMaxLineBytes
	}
	if l.MaxData <= 0 {
		l.MaxData = DefaultMaxDataBytes
	}
	if l.MaxPayload <= 0 {
		l.MaxPayload = DefaultMaxPayloadBytes
	}
	return l
}

// Reader decodes frames from a byte stream.
type Reader struct {
	r      *bufio.Reader
	limits Limits
}

func NewReader(r io.Reader, limits Limits) *Reader {
	limits = limits.withDefaults()
	return &Reader{r: bufio.NewReaderSize(r, limits.MaxLine), limits: limits}
}

// ReadHeader reads and parses the next header line. It returns io.EOF when
// the stream ends cleanly between frames.
func (r *Reader) ReadHeader() (Header, error) {
	line, err := r.readLine()
	if err != nil {
		return Header{}, err
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if h.Type == "" {
		return Header{}, fmt.Errorf("%w: missing type", ErrMalformedHeader)
	}
	if h.DataLength < 0 || h.PayloadLength < 0 {
		return Header{}, fmt.Errorf("%w: negative length", ErrMalformedHeader)
	}
	if h.DataLength > r.limits.MaxData {
		return Header{}, fmt.Errorf("%w: data_length %d > %d", ErrFrameTooLarge, h.DataLength, r.limits.MaxData)
	}
	if h.PayloadLength > r.limits.MaxPayload {
		return Header{}, fmt.Errorf("%w: payload_length %d > %d", ErrFrameTooLarge, h.PayloadLength, r.limits.MaxPayload)
	}
	h.raw = line
	return h, nil
}

// ReadBody consumes the data block and payload declared by h. Headers must
// come from ReadHeader so their lengths are already bounded.
func (r *Reader) ReadBody(h Header) (Frame, error) {
	f := Frame{Header: h}
	switch {
	case h.DataLength > 0:
		data := make([]byte, h.DataLength)
		if _, err := io.ReadFull(r.r, data); err != nil {
			return Frame{}, fmt.Errorf("read data block: %w", shortRead(err))
		}
		if !isObject(data) {
			return Frame{}, ErrMalformedData
		}
		f.Data = data
	case isObject(h.Data):
		f.Data = h.Data
	default:
		f.Data = h.raw
	}
	if h.PayloadLength > 0 {
		payload := make([]byte, h.PayloadLength)
		if _, err := io.ReadFull(r.r, payload); err != nil {
			return Frame{}, fmt.Errorf("read payload: %w", shortRead(err))
		}
		f.Payload = payload
	}
	return f, nil
}

// ReadFrame reads one complete frame.
func (r *Reader) ReadFrame() (Frame, error) {
	h, err := r.ReadHeader()
	if err != nil {
		return Frame{}, err
	}
	return r.ReadBody(h)
}

func (r *Reader) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.r.ReadSlice('\n')
		line = append(line, chunk...)
		switch {
		case err == nil:
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > r.limits.MaxLine {
				return nil, ErrLineTooLong
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(line) > r.limits.MaxLine {
				return nil, ErrLineTooLong
			}
			continue
		case errors.Is(err, io.EOF):
			if len(line) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

func shortRead(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func isObject(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return json.Valid(trimmed)
}

// Writer encodes frames onto a byte stream. Each frame is flushed as a unit.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

type outHeader struct {
	Type          string `json:"type"`
	Version       string `json:"version"`
	DataLength    int    `json:"data_length"`
	PayloadLength int    `json:"payload_length"`
}

// WriteFrame writes one frame. A nil data value sends no data block.
func (w *Writer) WriteFrame(eventType string, data any, payload []byte) error {
	var body []byte
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("encode %s data: %w", eventType, err)
		}
		body = encoded
	}
	header, err := json.Marshal(outHeader{
		Type:          eventType,
		Version:       ProtocolVersion,
		DataLength:    len(body),
		PayloadLength: len(payload),
	})
	if err != nil {
		return fmt.Errorf("encode %s header: %w", eventType, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(header); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if _, err := w.w.Write(body); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	return w.w.Flush()
}

// WriteEvent encodes and writes ev.
func (w *Writer) WriteEvent(ev Event) error {
	eventType, data, payload := Encode(ev)
	return w.WriteFrame(eventType, data, payload)
}
