package audio

import (
	"encoding/binary"
	"math"
)

// LevelMeter tracks the loudest RMS window of a PCM-16 byte stream.
// Writes may split samples across calls.
type LevelMeter struct {
	windowSize int
	sum        float64
	count      int
	peak       float64
	carry      []byte
}

// NewLevelMeter creates a meter that evaluates RMS over windowSize samples
func NewLevelMeter(windowSize int) *LevelMeter {
	if windowSize <= 0 {
		windowSize = 1024
	}
	return &LevelMeter{windowSize: windowSize}
}

// Write feeds little-endian PCM-16 bytes into the meter
func (m *LevelMeter) Write(p []byte) (int, error) {
	n := len(p)
	if len(m.carry) > 0 {
		p = append(m.carry, p...)
		m.carry = nil
	}

	for len(p) >= BytesPerSample {
		sample := float64(int16(binary.LittleEndian.Uint16(p[:2])))
		m.sum += sample * sample
		m.count++
		if m.count == m.windowSize {
			m.closeWindow()
		}
		p = p[BytesPerSample:]
	}

	if len(p) > 0 {
		m.carry = append(m.carry[:0], p...)
	}

	return n, nil
}

func (m *LevelMeter) closeWindow() {
	if m.count == 0 {
		return
	}
	rms := math.Sqrt(m.sum / float64(m.count))
	level := rms / math.MaxInt16
	if level > 1 {
		level = 1
	}
	if level > m.peak {
		m.peak = level
	}
	m.sum = 0
	m.count = 0
}

// Peak returns the loudest normalized window level seen so far (0..1),
// including any partially filled window
func (m *LevelMeter) Peak() float64 {
	m.closeWindow()
	return m.peak
}
