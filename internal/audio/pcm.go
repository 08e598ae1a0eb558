package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// InputSampleRate is the microphone capture rate expected by the live API.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of model audio returned by the live API.
	OutputSampleRate = 24000
)

// ErrDecode reports a malformed inbound audio payload. Callers should skip
// the frame rather than tear down the session.
var ErrDecode = errors.New("audio: malformed payload")

// Blob is a transport-ready audio payload: base64 PCM tagged with a MIME type.
type Blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Buffer holds decoded mono audio ready for playback scheduling.
type Buffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback length of the buffer in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// Encode converts floating-point samples in [-1,1] to little-endian 16-bit
// PCM and wraps the result as a base64 transport blob at the capture rate.
// Empty input yields an empty payload.
func Encode(samples []float32) Blob {
	blob := Blob{MIMEType: fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate)}
	if len(samples) == 0 {
		return blob
	}
	blob.Data = base64.StdEncoding.EncodeToString(PCM16Bytes(samples))
	return blob
}

// PCM16Bytes serializes samples in [-1,1] as little-endian 16-bit PCM.
func PCM16Bytes(samples []float32) []byte {
	raw := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(math.Round(float64(s) * 32767))
		binary.LittleEndian.PutUint16(raw[i*2:], uint16(v))
	}
	return raw
}

// DecodeBase64 reverses the transport encoding of an inbound payload.
func DecodeBase64(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return raw, nil
}

// DecodeToBuffer interprets raw bytes as little-endian 16-bit PCM and
// normalizes them back to floating point, producing a mono buffer at the
// given sample rate.
func DecodeToBuffer(raw []byte, sampleRate int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrDecode, sampleRate)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrDecode, len(raw))
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// DecodeFloat32LE reads raw little-endian float32 samples, the format the
// browser capture worklet ships over the stream socket.
func DecodeFloat32LE(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: float frame byte count %d", ErrDecode, len(raw))
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// RMS returns the root-mean-square level of a block of samples, clamped to
// [0,1]. It drives the listening indicator in the UI.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum / float64(len(samples)))
	if level > 1 {
		level = 1
	}
	return level
}
