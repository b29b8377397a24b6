package transcribe

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"github.com/stretchr/testify/require"
)

type providerFunc func(ctx context.Context, req Request) (Response, error)

func (f providerFunc) Transcribe(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// stubSlicer writes the chunk start in milliseconds into a temp file so
// providers can tell chunks apart.
type stubSlicer struct {
	dir string
	err map[int]error
}

func (s stubSlicer) Slice(_ context.Context, asset audio.Asset, chunk audio.Chunk) (string, error) {
	if err := s.err[chunk.Index]; err != nil {
		return "", err
	}
	if !chunk.Ephemeral {
		return asset.Path, nil
	}
	f, err := os.CreateTemp(s.dir, fmt.Sprintf("chunk-%03d-*.mp3", chunk.Index))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(strconv.FormatInt(chunk.Start.Milliseconds(), 10)); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func chunkStart(path string) (time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(ms) * time.Millisecond, nil
}

const sentenceLength = 10 * time.Second

// speech simulates a recording with one sentence after another.
// The provider answers with chunk relative timestamps, the way real APIs do.
type speech struct {
	chunkLen time.Duration
	total    time.Duration

	calls    atomic.Int32
	mu       sync.Mutex
	finished []int
	delay    func(start time.Duration) time.Duration
	fail     func(start time.Duration) error
}

func (s *speech) provider() Provider {
	return providerFunc(func(ctx context.Context, req Request) (Response, error) {
		s.calls.Add(1)
		start, err := chunkStart(req.Path)
		if err != nil {
			return Response{}, err
		}
		if s.delay != nil {
			select {
			case <-time.After(s.delay(start)):
			case <-ctx.Done():
				return Response{}, ctx.Err()
			}
		}
		if s.fail != nil {
			if err := s.fail(start); err != nil {
				return Response{}, err
			}
		}

		end := min(start+s.chunkLen, s.total)
		resp := Response{Language: "en"}
		for t := start; t < end; {
			sentence := t / sentenceLength
			next := min((sentence+1)*sentenceLength, end)
			resp.Segments = append(resp.Segments, Segment{
				Start: (t - start).Seconds(),
				End:   (next - start).Seconds(),
				Text:  fmt.Sprintf(" sentence %d ", int64(sentence)),
			})
			t = next
		}

		s.mu.Lock()
		s.finished = append(s.finished, int(start/time.Millisecond))
		s.mu.Unlock()
		return resp, nil
	})
}

// writeSilentWAV writes two seconds of 16 kHz mono digital silence.
func writeSilentWAV(t *testing.T) string {
	t.Helper()

	const dataSize = 2 * 16000 * 2
	buf := make([]byte, 44+dataSize)
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], 36+dataSize)
	copy(buf[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1)
	binary.LittleEndian.PutUint16(buf[22:], 1)
	binary.LittleEndian.PutUint32(buf[24:], 16000)
	binary.LittleEndian.PutUint32(buf[28:], 32000)
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], dataSize)

	path := filepath.Join(t.TempDir(), "silence.wav")
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}
