package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
	"strings"
)

// DefaultSilenceThreshold is the RMS energy below which a buffer is treated
// as silence. Tuned against kiosk mic captures; override per deployment via
// config when gyms are unusually loud.
const DefaultSilenceThreshold = 0.01

// base64ChunkSize bounds how much input the streaming encoder consumes per
// write so encoding a large capture buffer never balloons a single
// allocation.
const base64ChunkSize = 8 << 10

// FloatToPCM16 converts float32 samples in [-1, 1] to little-endian PCM16
// bytes. Out-of-range samples are clamped; NaN collapses to 0. Negative
// values scale by 0x8000 and positive by 0x7FFF so both extremes are
// representable.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s != s { // NaN
			s = 0
		}
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat converts little-endian PCM16 bytes back to float32 samples
// in [-1, 1). A trailing odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 0x8000
	}
	return out
}

// EncodeBase64 encodes data as standard base64, feeding the encoder in
// bounded chunks.
func EncodeBase64(data []byte) string {
	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(data)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for len(data) > 0 {
		n := len(data)
		if n > base64ChunkSize {
			n = base64ChunkSize
		}
		_, _ = enc.Write(data[:n])
		data = data[n:]
	}
	_ = enc.Close()
	return sb.String()
}

// DecodeBase64 decodes standard base64 audio payloads.
func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// RMS returns the root mean square energy of the samples, 0 for empty input.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// IsSilent reports whether the buffer's RMS energy is below threshold.
// A threshold <= 0 selects DefaultSilenceThreshold.
func IsSilent(samples []float32, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return RMS(samples) < threshold
}
