package transcribe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeDropsOverlapDuplicates(t *testing.T) {
	t.Parallel()

	results := []ChunkResult{
		{Index: 0, Language: "en", Segments: []Segment{
			{Start: 0, End: 4, Text: " check the "},
			{Start: 4, End: 9.8, Text: "fire exit"},
		}},
		{Index: 1, Language: "en", Segments: []Segment{
			{Start: 5, End: 9.8, Text: "fire exit"},
			{Start: 9.4, End: 12, Text: "signage is"},
			{Start: 12, End: 15, Text: "missing"},
		}},
	}

	got := Merge(results)
	require.Equal(t, []Segment{
		{Start: 0, End: 4, Text: " check the "},
		{Start: 4, End: 9.8, Text: "fire exit"},
		{Start: 9.4, End: 12, Text: "signage is"},
		{Start: 12, End: 15, Text: "missing"},
	}, got.Segments)
	require.Equal(t, "check the fire exit signage is missing", got.Text)
	require.Equal(t, "en", got.Language)
	require.Equal(t, 15.0, got.Duration)
	require.Empty(t, got.ChunkErrors)
}

func TestMergeUsesGlobalLastEnd(t *testing.T) {
	t.Parallel()

	// Chunk 1 contributes nothing new; chunk 2 must still be compared with
	// the end of chunk 0.
	results := []ChunkResult{
		{Index: 0, Segments: []Segment{{Start: 0, End: 30, Text: "a"}}},
		{Index: 1, Segments: []Segment{{Start: 10, End: 20, Text: "dup"}}},
		{Index: 2, Segments: []Segment{{Start: 25, End: 29, Text: "dup"}, {Start: 29.6, End: 40, Text: "b"}}},
	}

	got := Merge(results)
	require.Equal(t, "a b", got.Text)
	require.Len(t, got.Segments, 2)
	require.Equal(t, 40.0, got.Duration)
}

func TestMergeKeepsFailedChunksInPlace(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	results := []ChunkResult{
		{Index: 0, Segments: []Segment{{Start: 0, End: 10, Text: "first"}}},
		{Index: 1, Err: boom},
		{Index: 2, Language: "mr", Segments: []Segment{{Start: 20, End: 30, Text: "third"}}},
	}

	got := Merge(results)
	require.Equal(t, "first third", got.Text)
	require.Equal(t, "mr", got.Language)
	require.Len(t, got.ChunkErrors, 1)
	require.Equal(t, 1, got.ChunkErrors[0].Index)
	require.ErrorIs(t, got.ChunkErrors[0], boom)
	require.Equal(t, 30.0, got.Duration)
}

func TestMergeDurationFallsBackWhenLastChunkEmpty(t *testing.T) {
	t.Parallel()

	results := []ChunkResult{
		{Index: 0, Segments: []Segment{{Start: 0, End: 12.5, Text: "only"}}},
		{Index: 1, Err: errors.New("timeout")},
	}

	got := Merge(results)
	require.Equal(t, 12.5, got.Duration)
	require.Equal(t, "en", got.Language)
}

func TestMergeEmpty(t *testing.T) {
	t.Parallel()

	got := Merge(nil)
	require.Empty(t, got.Segments)
	require.Empty(t, got.Text)
	require.Equal(t, "en", got.Language)
	require.Zero(t, got.Duration)
}

func TestMergeTextOnlyResponse(t *testing.T) {
	t.Parallel()

	got := Merge([]ChunkResult{{Index: 0, Text: "  no segments here "}})
	require.Equal(t, "no segments here", got.Text)
	require.Empty(t, got.Segments)
	require.Empty(t, got.TextOnlyChunks)
}

func TestMergeFlagsLaterTextOnlyChunks(t *testing.T) {
	t.Parallel()

	got := Merge([]ChunkResult{
		{Index: 0, Text: "first part"},
		{Index: 1, Err: errors.New("timeout")},
		{Index: 2, Text: "part overlap"},
		{Index: 3, Text: "  "},
	})
	require.Equal(t, "first part part overlap", got.Text)
	require.Equal(t, []int{2}, got.TextOnlyChunks)
}
