package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func sample(id string) Checkpoint {
	created := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	return Checkpoint{
		IncidentID: id,
		Node:       "transcribe",
		Status:     StatusRunning,
		State: map[string]any{
			"incident_id": id,
			"audio_path":  "/data/audio/" + id + ".wav",
			"generated_tasks": []any{
				map[string]any{"task_title": "Fix railing"},
			},
		},
		Attempts:  1,
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestStorePutGet(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			_, err := store.Get(ctx, "inc-1")
			require.ErrorIs(t, err, ErrNotFound)

			want := sample("inc-1")
			require.NoError(t, store.Put(ctx, want))

			got, err := store.Get(ctx, "inc-1")
			require.NoError(t, err)
			require.Equal(t, want, got)

			want.Node = "generate_tasks"
			want.State["transcript"] = "railing is loose"
			require.NoError(t, store.Put(ctx, want))

			got, err = store.Get(ctx, "inc-1")
			require.NoError(t, err)
			require.Equal(t, "generate_tasks", got.Node)
			require.Equal(t, "railing is loose", got.State["transcript"])
		})
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			cp := sample("inc-2")
			require.NoError(t, store.Put(ctx, cp))
			cp.State["audio_path"] = "mutated after put"

			got, err := store.Get(ctx, "inc-2")
			require.NoError(t, err)
			require.Equal(t, "/data/audio/inc-2.wav", got.State["audio_path"])

			got.State["audio_path"] = "mutated after get"
			again, err := store.Get(ctx, "inc-2")
			require.NoError(t, err)
			require.Equal(t, "/data/audio/inc-2.wav", again.State["audio_path"])
		})
	}
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			second := sample("inc-b")
			second.CreatedAt = second.CreatedAt.Add(time.Hour)
			require.NoError(t, store.Put(ctx, second))
			require.NoError(t, store.Put(ctx, sample("inc-a")))

			got, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "inc-a", got[0].IncidentID)
			require.Equal(t, "inc-b", got[1].IncidentID)
		})
	}
}

// blockingValue stalls JSON encoding until released, standing in for a slow
// checkpoint write.
type blockingValue struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingValue) MarshalJSON() ([]byte, error) {
	close(b.entered)
	<-b.release
	return json.Marshal("released")
}

func TestStoreGetDoesNotBlockOnSlowPut(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			require.NoError(t, store.Put(ctx, sample("inc-3")))

			slow := sample("inc-3")
			slow.Node = "generate_tasks"
			block := blockingValue{entered: make(chan struct{}), release: make(chan struct{})}
			slow.State["slow"] = block

			putDone := make(chan error, 1)
			go func() { putDone <- store.Put(ctx, slow) }()
			<-block.entered

			got, err := store.Get(ctx, "inc-3")
			require.NoError(t, err)
			require.Equal(t, "transcribe", got.Node, "reader must see the previous checkpoint")

			close(block.release)
			require.NoError(t, <-putDone)

			got, err = store.Get(ctx, "inc-3")
			require.NoError(t, err)
			require.Equal(t, "generate_tasks", got.Node)
			require.Equal(t, "released", got.State["slow"])
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cp")
	first, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, first.Put(context.Background(), sample("inc-4")))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(context.Background(), "inc-4")
	require.NoError(t, err)
	require.Equal(t, sample("inc-4"), got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStoreRejectsPathLikeIDs(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	cp := sample("../escape")
	require.Error(t, store.Put(context.Background(), cp))

	_, err = store.Get(context.Background(), "../escape")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoreClaimIsExclusive(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			lease, err := store.Claim(ctx, "inc-5")
			require.NoError(t, err)

			_, err = store.Claim(ctx, "inc-5")
			require.ErrorIs(t, err, ErrLeased)

			other, err := store.Claim(ctx, "inc-6")
			require.NoError(t, err)
			require.NoError(t, other.Release())

			require.NoError(t, lease.Release())
			again, err := store.Claim(ctx, "inc-5")
			require.NoError(t, err)
			require.NoError(t, again.Release())
		})
	}
}

func TestFileStoreLeaseSpansStoreInstances(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "cp")
	first, err := NewFileStore(dir)
	require.NoError(t, err)
	second, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	lease, err := first.Claim(ctx, "inc-7")
	require.NoError(t, err)
	_, err = second.Claim(ctx, "inc-7")
	require.ErrorIs(t, err, ErrLeased)

	require.NoError(t, lease.Release())
	lease, err = second.Claim(ctx, "inc-7")
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	require.NoError(t, first.Put(ctx, sample("inc-7")))
	listed, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1, "lock files are not checkpoints")

	_, err = first.Claim(ctx, "../escape")
	require.Error(t, err)
}

func TestStoreCancelRequest(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			requested, err := store.CancelRequested(ctx, "inc-8")
			require.NoError(t, err)
			require.False(t, requested)

			require.NoError(t, store.SetCancel(ctx, "inc-8", true))
			requested, err = store.CancelRequested(ctx, "inc-8")
			require.NoError(t, err)
			require.True(t, requested)

			other, err := store.CancelRequested(ctx, "inc-9")
			require.NoError(t, err)
			require.False(t, other)

			require.NoError(t, store.SetCancel(ctx, "inc-8", false))
			require.NoError(t, store.SetCancel(ctx, "inc-8", false))
			requested, err = store.CancelRequested(ctx, "inc-8")
			require.NoError(t, err)
			require.False(t, requested)
		})
	}
}
