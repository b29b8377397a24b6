package audio

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfiguration marks chunking parameters that can never produce a plan.
var ErrConfiguration = errors.New("invalid chunk configuration")

// sizeSafetyMargin keeps estimated chunk sizes under the provider limit when
// the bitrate is not constant across the file.
const sizeSafetyMargin = 0.9

type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConfiguration, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Permanent tells retry loops not to try again.
func (e *ConfigurationError) Permanent() bool { return true }

// Chunk is a time slice [Start, End) of an asset. Ephemeral chunks are backed
// by a temporary file that must be removed once transcribed.
type Chunk struct {
	Index     int           `json:"index"`
	Start     time.Duration `json:"start"`
	End       time.Duration `json:"end"`
	Ephemeral bool          `json:"ephemeral"`
}

func (c Chunk) StartOffsetSec() float64 {
	return c.Start.Seconds()
}

func (c Chunk) Length() time.Duration {
	return c.End - c.Start
}

// Plan splits an asset of size bytes and the given duration into chunks whose
// estimated size stays under maxBytes. Consecutive chunks overlap by overlap.
func Plan(size int64, duration time.Duration, maxBytes int64, overlap time.Duration) ([]Chunk, error) {
	if maxBytes <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("max chunk bytes must be positive, got %d", maxBytes)}
	}
	if overlap < 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("overlap must not be negative, got %s", overlap)}
	}

	if size < maxBytes {
		return []Chunk{{Index: 0, Start: 0, End: duration}}, nil
	}

	durationMS := duration.Milliseconds()
	if durationMS <= 0 {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("asset of %d bytes has no duration", size)}
	}

	bytesPerMS := float64(size) / float64(durationMS)
	chunkLen := time.Duration(sizeSafetyMargin*float64(maxBytes)/bytesPerMS) * time.Millisecond
	step := chunkLen - overlap
	if step <= 0 {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("chunk length %s does not exceed overlap %s (max %d bytes at %.1f bytes/ms)", chunkLen, overlap, maxBytes, bytesPerMS),
		}
	}

	var chunks []Chunk
	for start := time.Duration(0); ; start += step {
		end := min(start+chunkLen, duration)
		chunks = append(chunks, Chunk{Index: len(chunks), Start: start, End: end, Ephemeral: true})
		if end == duration {
			break
		}
	}

	return chunks, nil
}
