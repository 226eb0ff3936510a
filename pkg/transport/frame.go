package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// FrameKind distinguishes protocol payloads from bus housekeeping.
type FrameKind uint8

const (
	FrameMessage FrameKind = iota + 1
	FrameBeacon
)

// Frame is what a socket bus puts on the wire.
type Frame struct {
	Kind FrameKind `json:"k"`
	From string    `json:"f"`
	To   string    `json:"t,omitempty"`
	Body []byte    `json:"b,omitempty"`
}

const (
	flagRaw    byte = 0
	flagSnappy byte = 1

	// Frames at or below this size are sent uncompressed.
	compressThreshold = 256
)

var ErrBadFrame = errors.New("transport: malformed frame")

// EncodeFrame marshals f and prefixes a compression flag byte.
func EncodeFrame(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	if len(data) <= compressThreshold {
		return append([]byte{flagRaw}, data...), nil
	}
	compressed := snappy.Encode(nil, data)
	return append([]byte{flagSnappy}, compressed...), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if len(raw) < 2 {
		return f, ErrBadFrame
	}
	data := raw[1:]
	switch raw[0] {
	case flagRaw:
	case flagSnappy:
		var err error
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return f, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
	default:
		return f, fmt.Errorf("%w: flag %d", ErrBadFrame, raw[0])
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if f.From == "" || (f.Kind != FrameMessage && f.Kind != FrameBeacon) {
		return f, ErrBadFrame
	}
	return f, nil
}
