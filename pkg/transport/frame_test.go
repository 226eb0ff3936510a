package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_SmallStaysRaw(t *testing.T) {
	raw, err := EncodeFrame(Frame{Kind: FrameBeacon, From: "a"})
	require.NoError(t, err)
	assert.Equal(t, flagRaw, raw[0])

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, FrameBeacon, f.Kind)
	assert.Equal(t, "a", f.From)
}

func TestFrame_LargeIsCompressed(t *testing.T) {
	body := bytes.Repeat([]byte("membership "), 100)
	raw, err := EncodeFrame(Frame{Kind: FrameMessage, From: "a", To: "b", Body: body})
	require.NoError(t, err)
	assert.Equal(t, flagSnappy, raw[0])
	assert.Less(t, len(raw), len(body))

	f, err := DecodeFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, body, f.Body)
	assert.Equal(t, "b", f.To)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"bad flag", []byte{9, '{', '}'}},
		{"bad json", []byte{flagRaw, '{'}},
		{"bad snappy", []byte{flagSnappy, 0xff, 0xff}},
		{"missing sender", []byte{flagRaw, '{', '"', 'k', '"', ':', '1', '}'}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.raw)
			assert.ErrorIs(t, err, ErrBadFrame)
		})
	}
}
