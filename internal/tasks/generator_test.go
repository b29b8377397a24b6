package tasks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func chatServer(t *testing.T, content string, status int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "gpt-4o-mini", req.Model)
		require.Equal(t, 0.2, req.Temperature)
		require.Len(t, req.Messages, 2)
		require.Equal(t, "system", req.Messages[0].Role)
		require.Contains(t, req.Messages[1].Content, "Here is the transcript:")

		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"overloaded"}`)
			return
		}
		resp := map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenAIGeneratorAppliesDefaults(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	content := "```json\n" + `[
		{"task_title": "Replace cracked panel", "task_description": "Panel 4 glass cracked", "severity_id": 1, "status_id": 1, "task_type_id": 2, "task_original_description": "panel four is cracked"},
		{"task_description": "Check inverter fan", "severity_id": "3"}
	]` + "\n```"
	server := chatServer(t, content, http.StatusOK, &calls)

	gen := NewOpenAIGenerator(server.URL+"/v1/", "sk-test", "", nil)
	got, err := gen.Generate(context.Background(), "panel four is cracked and the inverter fan sounds loud")
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []Task{
		{
			Title:         "Replace cracked panel",
			Description:   "Panel 4 glass cracked",
			OriginalQuote: "panel four is cracked",
			Severity:      SeveritySevere,
			Status:        StatusPending,
			Type:          TypeRepair,
		},
		{
			Title:       "Untitled Task",
			Description: "Check inverter fan",
			Severity:    SeverityLow,
			Status:      StatusPending,
			Type:        TypeVerify,
		},
	}, got)
}

func TestOpenAIGeneratorEmptyTranscriptSkipsCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := chatServer(t, "[]", http.StatusOK, &calls)

	got, err := NewOpenAIGenerator(server.URL+"/v1", "sk-test", "", nil).Generate(context.Background(), "   ")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Zero(t, calls.Load())
}

func TestOpenAIGeneratorErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		status  int
	}{
		{name: "server error", status: http.StatusServiceUnavailable},
		{name: "not json", content: "Sure! Here are the tasks: none", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := chatServer(t, tt.content, tt.status, &calls)
			_, err := NewOpenAIGenerator(server.URL+"/v1", "sk-test", "", nil).Generate(context.Background(), "door hinge loose")
			require.ErrorIs(t, err, ErrGeneration)
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	require.Equal(t, "[]", stripCodeFence("```json\n[]\n```"))
	require.Equal(t, "[]", stripCodeFence("```[]```"))
	require.Equal(t, `[{"a":1}]`, stripCodeFence(`  [{"a":1}]  `))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus("expert_review")
	require.NoError(t, err)
	require.Equal(t, StatusExpertReview, s)

	s, err = ParseStatus("4")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s)

	_, err = ParseStatus("9")
	require.Error(t, err)
	_, err = ParseStatus("done")
	require.Error(t, err)
}
