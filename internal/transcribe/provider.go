package transcribe

import (
	"context"
	"errors"
	"fmt"
)

var ErrProvider = errors.New("transcription provider error")

// Provider turns one audio file into timed segments. Implementations must not
// retry; retries belong to the workflow.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (Response, error)
}

type Request struct {
	Path      string
	Prompt    string
	Language  string
	Translate bool
}

type Response struct {
	Segments []Segment `json:"segments"`
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// ProviderError reports a failed provider call. StatusCode is zero when the
// request never got a response.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", ErrProvider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", ErrProvider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", ErrProvider, e.Err)
	}
	return ErrProvider.Error()
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
