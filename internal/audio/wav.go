package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Fixed capture format: linear PCM, 16-bit signed, mono, 44.1 kHz, little-endian
const (
	SampleRate     = 44100
	Channels       = 1
	BitsPerSample  = 16
	BytesPerSample = BitsPerSample / 8
	HeaderSize     = 44
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo holds basic information about a WAV payload
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// NewHeader builds a mono PCM-16 header for dataSize bytes of samples
func NewHeader(sampleRate int, dataSize uint32) WAVHeader {
	numChannels := uint16(Channels)
	bitsPerSample := uint16(BitsPerSample)

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// WriteHeader writes the header for dataSize bytes at offset 0 of w.
// The recorder writes a zero-size header first and patches it on stop.
func WriteHeader(w io.WriterAt, sampleRate int, dataSize uint32) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, NewHeader(sampleRate, dataSize)); err != nil {
		return fmt.Errorf("failed to encode WAV header: %w", err)
	}
	if _, err := w.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}
	return nil
}

// EncodeWAV encodes PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := uint32(len(samples) * BytesPerSample)
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+int(dataSize)))

	if err := binary.Write(buf, binary.LittleEndian, NewHeader(sampleRate, dataSize)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// ParseWAV walks the RIFF chunks of data and returns the format header and
// the raw PCM bytes of the data chunk. Chunks other than "fmt " and "data"
// (LIST, fact, ...) are skipped.
func ParseWAV(data []byte) (*WAVInfo, []byte, error) {
	if len(data) < HeaderSize {
		return nil, nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info    *WAVInfo
		pcm     []byte
		haveFmt bool
	)

	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) || end < body {
			// Tolerate a truncated final data chunk from streaming writers
			if id == "data" {
				end = len(data)
			} else {
				return nil, nil, fmt.Errorf("invalid WAV file: chunk %q overruns payload", id)
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", audioFormat)
			}
			info = &WAVInfo{
				Channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}

		if pcm != nil && haveFmt {
			break
		}

		// Chunks are word aligned
		pos = end + size%2
	}

	if !haveFmt {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if pcm == nil {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if info.SampleRate == 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: 0")
	}

	if info.BitsPerSample != BitsPerSample {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	if info.Channels != Channels {
		return nil, nil, fmt.Errorf("unsupported channel count: %d (only mono is supported)", info.Channels)
	}

	info.DataSize = uint32(len(pcm))
	info.NumSamples = info.DataSize / BytesPerSample
	info.Duration = float64(info.NumSamples) / float64(info.SampleRate)

	return info, pcm, nil
}

// DecodeWAV decodes WAV format data back to PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	info, pcm, err := ParseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if info.NumSamples == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, info.NumSamples)
	if err := binary.Read(bytes.NewReader(pcm), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(info.SampleRate), nil
}

// ValidateWAV validates a WAV payload without decoding the samples
func ValidateWAV(data []byte) error {
	_, _, err := ParseWAV(data)
	return err
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	info, _, err := ParseWAV(data)
	return info, err
}

// GenerateTone returns a sine tone at the given frequency, used for test
// fixtures and by the mock evaluation server
func GenerateTone(frequency float64, seconds float64, sampleRate int) []int16 {
	numSamples := int(float64(sampleRate) * seconds)
	samples := make([]int16, numSamples)

	amplitude := 16383.0 // Half of max int16 to avoid clipping
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}

	return samples
}
