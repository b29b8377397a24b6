package transcribe

import "fmt"

// Segment is a timed span of transcript text. Times are seconds from the
// start of the source audio once rebased.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChunkResult is the outcome of transcribing one chunk. A failed chunk carries
// Err and no segments.
type ChunkResult struct {
	Index    int
	Segments []Segment
	Text     string
	Language string
	Err      error
}

func (r ChunkResult) Failed() bool {
	return r.Err != nil
}

type ChunkError struct {
	Index int
	Err   error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e ChunkError) Unwrap() error {
	return e.Err
}

// Result is the merged transcript of a whole asset.
type Result struct {
	Segments    []Segment    `json:"segments"`
	Text        string       `json:"text"`
	Language    string       `json:"language"`
	Duration    float64      `json:"duration"`
	ChunkErrors []ChunkError `json:"-"`
	// TextOnlyChunks lists chunks after the first that came back without
	// segments. Their text is kept whole, overlap included.
	TextOnlyChunks []int `json:"-"`
}
