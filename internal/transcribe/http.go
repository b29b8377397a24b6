package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultGroqBaseURL   = "https://api.groq.com/openai/v1"
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultModel         = "whisper-large-v3"

	maxErrorBody = 4 << 10
)

// HTTPProvider talks to an OpenAI compatible audio API such as Groq's.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

type Option func(*HTTPProvider)

func WithBaseURL(url string) Option {
	return func(p *HTTPProvider) { p.baseURL = strings.TrimRight(url, "/") }
}

func WithAPIKey(key string) Option {
	return func(p *HTTPProvider) { p.apiKey = key }
}

func WithModel(model string) Option {
	return func(p *HTTPProvider) { p.model = model }
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProvider) { p.client = client }
}

func NewHTTPProvider(opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		baseURL: DefaultGroqBaseURL,
		model:   DefaultModel,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) Transcribe(ctx context.Context, req Request) (Response, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return Response{}, fmt.Errorf("open chunk audio: %w", err)
	}
	defer f.Close()

	endpoint := p.baseURL + "/audio/transcriptions"
	if req.Translate {
		endpoint = p.baseURL + "/audio/translations"
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(p.writeForm(mw, f, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		_ = pr.Close()
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("User-Agent", "inspecta/1")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, &ProviderError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Response{}, &ProviderError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &ProviderError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode verbose_json: %w", err)}
	}
	return out, nil
}

func (p *HTTPProvider) writeForm(mw *multipart.Writer, audio io.Reader, req Request) error {
	fields := [][2]string{
		{"model", p.model},
		{"response_format", "verbose_json"},
	}
	if req.Prompt != "" {
		fields = append(fields, [2]string{"prompt", req.Prompt})
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" && !req.Translate {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, field := range fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(req.Path)))
	header.Set("Content-Type", mimeFromExt(filepath.Ext(req.Path)))
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return mw.Close()
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/m4a"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
