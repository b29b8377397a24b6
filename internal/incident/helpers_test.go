package incident

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shailesh-ag78/Inspecta/internal/audio"
	"github.com/shailesh-ag78/Inspecta/internal/checkpoint"
	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/storage"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/transcribe"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"github.com/stretchr/testify/require"
)

// fakes counts delegate calls; each field may be swapped per test.
type fakes struct {
	mu    sync.Mutex
	calls map[string]int

	extract    func(in, out string) error
	transcribe func(asset audio.Asset) (transcribe.Result, error)
	generate   func(transcript string) ([]tasks.Task, error)
}

func newFakes() *fakes {
	return &fakes{
		calls: map[string]int{},
		extract: func(_, out string) error {
			return os.WriteFile(out, []byte("RIFF"), 0o644)
		},
		transcribe: func(audio.Asset) (transcribe.Result, error) {
			return transcribe.Result{
				Text:     "tile broken near lift, cable loose at panel",
				Language: "en",
				Duration: 42.5,
				Segments: []transcribe.Segment{{Start: 0, End: 42.5, Text: "tile broken near lift, cable loose at panel"}},
			}, nil
		},
		generate: func(string) ([]tasks.Task, error) {
			return []tasks.Task{
				{Title: "Replace tile", Severity: tasks.SeverityRegular, Status: tasks.StatusPending, Type: tasks.TypeRepair},
				{Title: "Secure cable", Severity: tasks.SeveritySevere, Status: tasks.StatusPending, Type: tasks.TypeRepair},
			}, nil
		},
	}
}

func (f *fakes) inc(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakes) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakes) Extract(_ context.Context, in, out string) error {
	f.inc("extract")
	return f.extract(in, out)
}

func (f *fakes) Probe(_ context.Context, path string) (audio.Asset, error) {
	return audio.Asset{Path: path, Size: 4, Duration: 42500 * time.Millisecond}, nil
}

func (f *fakes) Transcribe(_ context.Context, asset audio.Asset) (transcribe.Result, error) {
	f.inc("transcribe")
	return f.transcribe(asset)
}

func (f *fakes) Generate(_ context.Context, transcript string) ([]tasks.Task, error) {
	f.inc("generate")
	return f.generate(transcript)
}

type harness struct {
	svc     *Service
	repo    *records.FileRepository
	store   checkpoint.Store
	fakes   *fakes
	dataDir string
}

func newHarness(t *testing.T, store checkpoint.Store) *harness {
	t.Helper()

	dataDir := t.TempDir()
	repo, err := records.NewFileRepository(filepath.Join(dataDir, "records.json"))
	require.NoError(t, err)
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}
	f := newFakes()
	media := storage.NewLocal(filepath.Join(dataDir, "media"), nil)
	media.NoProgress = true

	svc, err := New(Deps{
		Records:     repo,
		Media:       media,
		Extractor:   f,
		Prober:      f,
		Transcriber: f,
		Generator:   f,
		Checkpoints: store,
		AudioDir:    filepath.Join(dataDir, "audio"),
		EngineOptions: []workflow.Option{
			workflow.WithSleep(func(context.Context, time.Duration) error { return nil }),
		},
	})
	require.NoError(t, err)
	t.Cleanup(svc.Wait)

	return &harness{svc: svc, repo: repo, store: store, fakes: f, dataDir: dataDir}
}

func (h *harness) upload(t *testing.T, tenant string) Upload {
	t.Helper()

	inspection, err := h.svc.CreateInspection(context.Background(), tenant, "site-7", "priya")
	require.NoError(t, err)

	source := filepath.Join(t.TempDir(), "walk.mp4")
	require.NoError(t, os.WriteFile(source, []byte("video bytes"), 0o644))
	return Upload{TenantID: tenant, InspectionID: inspection.ID, Source: source}
}

var errFlaky = errors.New("provider unavailable")
