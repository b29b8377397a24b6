package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether the WAV file at path stays under thresholdDBFS.
// The peak may exceed the threshold by 6 dB to tolerate clicks.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := measureWAV(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 {
		return true, metrics, nil
	}

	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true, metrics, nil
	}

	peakGate := thresholdDBFS + 6
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= peakGate, metrics, nil
}

func measureWAV(path string) (SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	info, err := readWAVInfo(f)
	if err != nil {
		return SilenceMetrics{}, err
	}

	if _, err := f.Seek(info.DataOffset, io.SeekStart); err != nil {
		return SilenceMetrics{}, fmt.Errorf("seek wav data offset: %w", err)
	}

	meter := levelMeter{format: info.AudioFormat, bits: info.BitsPerSample}
	sampleSize := int(info.BitsPerSample / 8)
	// Read whole samples only; inspection audio can be hundreds of MB.
	buf := make([]byte, sampleSize*4096)
	reader := bufio.NewReader(io.LimitReader(f, info.DataSize))
	for {
		n, err := io.ReadFull(reader, buf)
		if n > 0 {
			if ferr := meter.feed(buf[:n-n%sampleSize]); ferr != nil {
				return SilenceMetrics{}, ferr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return SilenceMetrics{}, fmt.Errorf("read wav data: %w", err)
		}
	}

	return meter.metrics(), nil
}

type levelMeter struct {
	format     uint16
	bits       uint16
	peak       float64
	sumSquares float64
	samples    int64
}

func (m *levelMeter) feed(data []byte) error {
	size := int(m.bits / 8)
	for i := 0; i+size <= len(data); i += size {
		value, err := decodeSample(data[i:i+size], m.format, m.bits)
		if err != nil {
			return err
		}
		if abs := math.Abs(value); abs > m.peak {
			m.peak = abs
		}
		m.sumSquares += value * value
		m.samples++
	}
	return nil
}

func (m *levelMeter) metrics() SilenceMetrics {
	if m.samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}
	rms := math.Sqrt(m.sumSquares / float64(m.samples))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(m.peak),
		Samples:  m.samples,
	}
}

func decodeSample(sample []byte, audioFormat, bitsPerSample uint16) (float64, error) {
	if audioFormat == wavFormatFloat {
		switch bitsPerSample {
		case 32:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(sample))), nil
		case 64:
			return math.Float64frombits(binary.LittleEndian.Uint64(sample)), nil
		}
		return 0, ErrUnsupportedWAV
	}

	switch bitsPerSample {
	case 8:
		return (float64(sample[0]) - 128.0) / 128.0, nil
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) / 32768.0, nil
	case 24:
		v := int32(sample[0]) | int32(sample[1])<<8 | int32(sample[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / 8388608.0, nil
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) / 2147483648.0, nil
	}
	return 0, ErrUnsupportedWAV
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}
