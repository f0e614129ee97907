package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	tests := []struct {
		name  string
		frame Frame
	}{
		{
			name:  "empty payload",
			frame: Frame{Type: TypeRequest, Command: CmdListChannels},
		},
		{
			name:  "single argument",
			frame: Frame{Type: TypeRequest, Command: CmdJoinChannel, Payload: []byte("#general\x00")},
		},
		{
			name: "multiple arguments",
			frame: Frame{
				Type:    TypeRequest,
				Command: CmdLogin,
				Payload: []byte("alice\x00pw1\x00"),
			},
		},
		{
			name:  "max payload",
			frame: Frame{Type: TypeResponse, Command: RespChannelMessage, Payload: make([]byte, MaxPayloadSize)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.Encode(&tt.frame)
			require.NoError(t, err)
			require.LessOrEqual(t, len(encoded), MaxFrameSize)

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)

			assert.Equal(t, tt.frame.Type, decoded.Type)
			assert.Equal(t, tt.frame.Command, decoded.Command)
			if len(tt.frame.Payload) == 0 {
				assert.Empty(t, decoded.Payload)
			} else {
				assert.Equal(t, tt.frame.Payload, decoded.Payload)
			}
		})
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))
	frame := &Frame{Type: TypeRequest, Command: CmdUpload, Payload: make([]byte, MaxPayloadSize+1)}

	_, err := codec.Encode(frame)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeInsufficientHeader(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	for _, n := range []int{0, 1, 2, 3} {
		_, err := codec.Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrInsufficientHeader, "input length %d", n)
	}
}

func TestDecodeLengthMismatch(t *testing.T) {
	codec := NewCodec(Identity{})

	// Header declares 10 payload bytes but only 5 follow.
	data := []byte{TypeRequest, CmdLogin, 0x00, 0x0A, 'h', 'e', 'l', 'l', 'o'}
	_, err := codec.Decode(data)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	frame := NewRequest(CmdJoinChannel)
	require.NoError(t, frame.AddArg("#general"))

	encoded, err := codec.Encode(frame)
	require.NoError(t, err)

	// Append garbage past the declared length; decode must not care.
	withTrailing := append(encoded, 0xDE, 0xAD, 0xBE, 0xEF)
	decoded, err := codec.Decode(withTrailing)
	require.NoError(t, err)
	assert.Equal(t, []string{"#general"}, decoded.Args())
}

func TestTransformObfuscatesWire(t *testing.T) {
	masked := NewCodec(XORMask(0xFF))
	plain := NewCodec(Identity{})

	frame := NewRequest(CmdLogin)
	require.NoError(t, frame.AddArgs("alice", "pw1"))

	maskedBytes, err := masked.Encode(frame)
	require.NoError(t, err)
	plainBytes, err := plain.Encode(frame)
	require.NoError(t, err)

	require.Equal(t, len(plainBytes), len(maskedBytes))
	assert.NotEqual(t, plainBytes, maskedBytes)
	for i := range plainBytes {
		assert.Equal(t, plainBytes[i]^0xFF, maskedBytes[i])
	}

	// A masked codec cannot be decoded by a plain one without desyncing
	// or mangling the header.
	_, err = plain.Decode(maskedBytes)
	assert.Error(t, err)
}

func TestAddArgRejectsEmbeddedNUL(t *testing.T) {
	frame := NewRequest(CmdUserMessage)
	err := frame.AddArg("bad\x00arg")
	assert.ErrorIs(t, err, ErrEmbeddedNUL)
	assert.Empty(t, frame.Payload)
}

func TestArgsIgnoresUnterminatedTail(t *testing.T) {
	frame := &Frame{Payload: []byte("one\x00two\x00partial")}
	assert.Equal(t, []string{"one", "two"}, frame.Args())
}

func TestArgsEmptyArguments(t *testing.T) {
	frame := NewResponse(RespChannelList)
	require.NoError(t, frame.AddArgs("", "general", ""))
	assert.Equal(t, []string{"", "general", ""}, frame.Args())
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "login", CommandName(CmdLogin))
	assert.Equal(t, "channel_message", CommandName(CmdChannelMessage))
	assert.Equal(t, "unknown", CommandName(0xEE))
}
