package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gofrs/flock"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// FileStore keeps one JSON document per incident under Dir. Writes go to a
// temp file that is synced and renamed over the previous document. Run
// leases are advisory file locks on .<incident>.lock, so they are dropped by
// the OS when the holding process dies. A pending cancel request is the
// marker file .<incident>.cancel.
type FileStore struct {
	Dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) path(incidentID string) (string, error) {
	if !safeID.MatchString(incidentID) {
		return "", fmt.Errorf("invalid incident id %q", incidentID)
	}
	return filepath.Join(s.Dir, incidentID+".json"), nil
}

// sidecar names a hidden per-incident file that List skips.
func (s *FileStore) sidecar(incidentID, ext string) (string, error) {
	if !safeID.MatchString(incidentID) {
		return "", fmt.Errorf("invalid incident id %q", incidentID)
	}
	return filepath.Join(s.Dir, "."+incidentID+ext), nil
}

func (s *FileStore) Claim(ctx context.Context, incidentID string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.sidecar(incidentID, ".lock")
	if err != nil {
		return nil, err
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock incident %s: %w", incidentID, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLeased, incidentID)
	}
	return fileLease{lock: lock}, nil
}

func (s *FileStore) SetCancel(ctx context.Context, incidentID string, requested bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.sidecar(incidentID, ".cancel")
	if err != nil {
		return err
	}

	if requested {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			return fmt.Errorf("request cancel %s: %w", incidentID, err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear cancel %s: %w", incidentID, err)
	}
	return nil
}

func (s *FileStore) CancelRequested(ctx context.Context, incidentID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := s.sidecar(incidentID, ".cancel")
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("check cancel %s: %w", incidentID, err)
	}
}

type fileLease struct {
	lock *flock.Flock
}

func (l fileLease) Release() error {
	return l.lock.Unlock()
}

func (s *FileStore) Put(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.path(cp.IncidentID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.IncidentID, err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+cp.IncidentID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}

	success := false
	defer func() {
		_ = tmp.Close()
		if !success {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.IncidentID, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %s: %w", cp.IncidentID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint %s: %w", cp.IncidentID, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", cp.IncidentID, err)
	}

	success = true
	return nil
}

func (s *FileStore) Get(ctx context.Context, incidentID string) (Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, err
	}
	path, err := s.path(incidentID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return readCheckpoint(path)
}

func (s *FileStore) List(ctx context.Context) ([]Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint directory: %w", err)
	}

	var out []Checkpoint
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ".json" {
			continue
		}
		cp, err := readCheckpoint(filepath.Join(s.Dir, name))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, cp)
	}
	sortByCreation(out)
	return out, nil
}

func readCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	return cp, nil
}
