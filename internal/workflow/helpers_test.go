package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
	"github.com/stretchr/testify/require"
)

// recorder counts node invocations and remembers the state each one saw.
type recorder struct {
	mu     sync.Mutex
	calls  map[string]int
	inputs map[string][]State
	sleeps []time.Duration
}

func newRecorder() *recorder {
	return &recorder{calls: map[string]int{}, inputs: map[string][]State{}}
}

func (r *recorder) node(name string, fn NodeFunc) NodeFunc {
	return func(ctx context.Context, state State) (State, error) {
		r.mu.Lock()
		r.calls[name]++
		r.inputs[name] = append(r.inputs[name], state)
		r.mu.Unlock()
		return fn(ctx, state)
	}
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *recorder) lastInput(name string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	in := r.inputs[name]
	if len(in) == 0 {
		return nil
	}
	return in[len(in)-1]
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}

func (r *recorder) backoffs() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.sleeps...)
}

func returns(delta State) NodeFunc {
	return func(context.Context, State) (State, error) { return delta, nil }
}

var retry3 = RetryPolicy{MaxAttempts: 3, BackoffBase: 2}

// pipelineNodes mirrors the incident workflow with stubbed delegates.
func pipelineNodes(rec *recorder, extract, transcribe, generate NodeFunc) []Node {
	if extract == nil {
		extract = returns(State{"audio_path": "/data/audio/inc.wav"})
	}
	if transcribe == nil {
		transcribe = returns(State{"transcript": "loose cable near panel"})
	}
	if generate == nil {
		generate = returns(State{"generated_tasks": []any{map[string]any{"task_title": "Secure cable"}}})
	}
	return []Node{
		{Name: "extract_audio", Run: rec.node("extract_audio", extract), Retry: RetryPolicy{MaxAttempts: 1}},
		{Name: "transcribe", Run: rec.node("transcribe", transcribe), Retry: retry3},
		{Name: "generate_tasks", Run: rec.node("generate_tasks", generate), Retry: retry3},
	}
}

func newTestEngine(t *testing.T, store checkpoint.Store, rec *recorder, nodes []Node) *Engine {
	t.Helper()
	engine, err := New(store, nodes,
		WithPolicies(Policies{"generated_tasks": Append}),
		WithSleep(rec.sleep),
	)
	require.NoError(t, err)
	return engine
}

func mustGet(t *testing.T, store checkpoint.Store, id string) checkpoint.Checkpoint {
	t.Helper()
	cp, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	return cp
}
