package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestFrameRoundTrip checks that any frame whose payload fits the limit
// survives encode/decode unchanged, for any type and command byte.
func TestFrameRoundTrip(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	rapid.Check(t, func(t *rapid.T) {
		frameType := rapid.Byte().Draw(t, "type")
		command := rapid.Byte().Draw(t, "command")
		payloadLen := rapid.IntRange(0, MaxPayloadSize).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")

		original := &Frame{Type: frameType, Command: command, Payload: payload}

		encoded, err := codec.Encode(original)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		if decoded.Type != original.Type {
			t.Fatalf("type mismatch: got %d, want %d", decoded.Type, original.Type)
		}
		if decoded.Command != original.Command {
			t.Fatalf("command mismatch: got %d, want %d", decoded.Command, original.Command)
		}
		if !bytes.Equal(decoded.Payload, original.Payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// TestArgumentRoundTrip checks that any NUL-free argument list round-trips
// through AddArg/Args as long as the encoded payload fits.
func TestArgumentRoundTrip(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 8).Draw(t, "count")

		frame := NewRequest(rapid.Byte().Draw(t, "command"))
		var args []string
		for i := 0; i < count; i++ {
			arg := rapid.StringMatching(`[ -~]{0,100}`).Draw(t, "arg")
			if len(frame.Payload)+len(arg)+1 > MaxPayloadSize {
				break
			}
			if err := frame.AddArg(arg); err != nil {
				t.Fatalf("AddArg(%q): %v", arg, err)
			}
			args = append(args, arg)
		}

		encoded, err := codec.Encode(frame)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}

		got := decoded.Args()
		if len(got) != len(args) {
			t.Fatalf("arg count mismatch: got %d, want %d", len(got), len(args))
		}
		for i := range args {
			if got[i] != args[i] {
				t.Fatalf("arg %d mismatch: got %q, want %q", i, got[i], args[i])
			}
		}
	})
}

// TestDecodeNeverPanics feeds arbitrary bytes to the decoder; it must fail
// cleanly or produce a frame, never panic.
func TestDecodeNeverPanics(t *testing.T) {
	codec := NewCodec(XORMask(0xFF))

	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, MaxFrameSize*2).Draw(t, "data")
		frame, err := codec.Decode(data)
		if err == nil && frame == nil {
			t.Fatalf("decode returned neither frame nor error")
		}
	})
}
