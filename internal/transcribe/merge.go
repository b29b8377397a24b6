package transcribe

import "strings"

const (
	// duplicateTolerance is how far before the merged timeline's end a segment
	// may start and still be kept.
	duplicateTolerance = 0.5
	defaultLanguage    = "en"
)

// Merge joins index-ordered chunk results into one timeline. Segments of a
// later chunk that start more than duplicateTolerance seconds before the end
// of everything merged so far are overlap duplicates and are dropped.
func Merge(results []ChunkResult) Result {
	var (
		merged  Result
		texts   []string
		lastEnd float64
	)

	for i, r := range results {
		if r.Err != nil {
			merged.ChunkErrors = append(merged.ChunkErrors, ChunkError{Index: r.Index, Err: r.Err})
			continue
		}
		if merged.Language == "" {
			merged.Language = r.Language
		}

		// Text-only responses cannot be deduplicated; keep them whole.
		if len(r.Segments) == 0 {
			if text := strings.TrimSpace(r.Text); text != "" {
				texts = append(texts, text)
				if i > 0 {
					merged.TextOnlyChunks = append(merged.TextOnlyChunks, r.Index)
				}
			}
			continue
		}

		var kept []Segment
		for _, seg := range r.Segments {
			if i > 0 && seg.Start < lastEnd-duplicateTolerance {
				continue
			}
			kept = append(kept, seg)
		}
		if len(kept) == 0 {
			continue
		}

		merged.Segments = append(merged.Segments, kept...)
		for _, seg := range kept {
			if text := strings.TrimSpace(seg.Text); text != "" {
				texts = append(texts, text)
			}
		}
		lastEnd = kept[len(kept)-1].End
	}

	merged.Text = strings.Join(texts, " ")
	if merged.Language == "" {
		merged.Language = defaultLanguage
	}

	if n := len(results); n > 0 && len(results[n-1].Segments) > 0 {
		last := results[n-1].Segments
		merged.Duration = last[len(last)-1].End
	} else if n := len(merged.Segments); n > 0 {
		merged.Duration = merged.Segments[n-1].End
	}

	return merged
}
