package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.5, -0.5, 0.0, 0.25, -1.0, 1.0}

	blob := Encode(in)
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected mime type %q", blob.MIMEType)
	}

	raw, err := DecodeBase64(blob.Data)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	buf, err := DecodeToBuffer(raw, InputSampleRate)
	if err != nil {
		t.Fatalf("DecodeToBuffer: %v", err)
	}
	if len(buf.Samples) != len(in) {
		t.Fatalf("got %d samples, want %d", len(buf.Samples), len(in))
	}
	const tol = 1.0 / 32768
	for i, s := range buf.Samples {
		if math.Abs(float64(s)-float64(in[i])) > tol {
			t.Errorf("sample %d: got %v, want %v within %v", i, s, in[i], tol)
		}
	}
}

func TestEncodeEmpty(t *testing.T) {
	blob := Encode(nil)
	if blob.Data != "" {
		t.Fatalf("empty input should produce empty payload, got %q", blob.Data)
	}
	if blob.MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("unexpected mime type %q", blob.MIMEType)
	}
}

func TestEncodeClamps(t *testing.T) {
	raw := PCM16Bytes([]float32{2.0, -2.0})
	hi := int16(binary.LittleEndian.Uint16(raw[0:]))
	lo := int16(binary.LittleEndian.Uint16(raw[2:]))
	if hi != 32767 {
		t.Errorf("over-range sample: got %d, want 32767", hi)
	}
	if lo != -32767 {
		t.Errorf("under-range sample: got %d, want -32767", lo)
	}
}

func TestDecodeBase64Malformed(t *testing.T) {
	if _, err := DecodeBase64("%%%not-base64%%%"); !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
}

func TestDecodeToBufferOddBytes(t *testing.T) {
	if _, err := DecodeToBuffer([]byte{1, 2, 3}, OutputSampleRate); !errors.Is(err, ErrDecode) {
		t.Fatalf("got %v, want ErrDecode", err)
	}
	if _, err := DecodeToBuffer([]byte{1, 2}, 0); !errors.Is(err, ErrDecode) {
		t.Fatalf("zero rate: got %v, want ErrDecode", err)
	}
}

func TestBufferDuration(t *testing.T) {
	buf := &Buffer{Samples: make([]float32, OutputSampleRate), SampleRate: OutputSampleRate}
	if d := buf.Duration(); d != 1.0 {
		t.Fatalf("got duration %v, want 1.0", d)
	}
	var nilBuf *Buffer
	if d := nilBuf.Duration(); d != 0 {
		t.Fatalf("nil buffer duration should be 0, got %v", d)
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	in := []float32{0.1, -0.9, 1.0}
	raw := make([]byte, len(in)*4)
	for i, s := range in {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(s))
	}
	out, err := DecodeFloat32LE(raw)
	if err != nil {
		t.Fatalf("DecodeFloat32LE: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, out[i], in[i])
		}
	}
	if _, err := DecodeFloat32LE(raw[:5]); !errors.Is(err, ErrDecode) {
		t.Fatalf("truncated frame: got %v, want ErrDecode", err)
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("empty block: got %v, want 0", got)
	}
	if got := RMS([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("got %v, want 0.5", got)
	}
	if got := RMS([]float32{2, -2}); got != 1 {
		t.Fatalf("level should clamp to 1, got %v", got)
	}
}

func TestRoundTripViaTransportEncoding(t *testing.T) {
	in := make([]float32, 160)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * float64(i) / 160))
	}
	encoded := base64.StdEncoding.EncodeToString(PCM16Bytes(in))
	raw, err := DecodeBase64(encoded)
	if err != nil {
		t.Fatalf("DecodeBase64: %v", err)
	}
	buf, err := DecodeToBuffer(raw, InputSampleRate)
	if err != nil {
		t.Fatalf("DecodeToBuffer: %v", err)
	}
	for i := range in {
		if math.Abs(float64(buf.Samples[i])-float64(in[i])) > 1.0/32768 {
			t.Fatalf("sample %d drifted: %v vs %v", i, buf.Samples[i], in[i])
		}
	}
}
