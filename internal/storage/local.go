package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Media describes an upload once it sits in the media store.
type Media struct {
	Path   string
	Name   string
	Size   int64
	SHA256 string
}

// Local keeps uploaded media under <Dir>/<tenant>/<uuid>_<name>. Sources are
// either local paths, copied in, or http(s) URLs, downloaded with retries.
type Local struct {
	Dir        string
	Retries    int
	NoProgress bool
	HTTPClient *http.Client
	Logger     *zap.Logger

	sleep func(time.Duration)
}

func NewLocal(dir string, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		Dir:        dir,
		Retries:    3,
		HTTPClient: &http.Client{Timeout: 30 * time.Minute},
		Logger:     logger,
	}
}

func (l *Local) Save(ctx context.Context, tenantID, source string) (Media, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Media{}, errors.New("tenant id is required")
	}
	if strings.TrimSpace(source) == "" {
		return Media{}, errors.New("media source is required")
	}

	remote := isRemote(source)
	name := sanitizeName(sourceName(source, remote))
	tenantDir := filepath.Join(l.Dir, sanitizeName(tenantID))
	if err := os.MkdirAll(tenantDir, 0o755); err != nil {
		return Media{}, fmt.Errorf("create media directory: %w", err)
	}
	destination := filepath.Join(tenantDir, uuid.NewString()+"_"+name)

	var (
		media Media
		err   error
	)
	if remote {
		media, err = l.download(ctx, source, destination)
	} else {
		media, err = l.copyLocal(ctx, source, destination)
	}
	if err != nil {
		return Media{}, err
	}
	media.Name = name

	l.logger().Info("media stored",
		zap.String("tenant", tenantID),
		zap.String("path", media.Path),
		zap.Int64("bytes", media.Size),
	)
	return media, nil
}

func (l *Local) copyLocal(ctx context.Context, source, destination string) (Media, error) {
	in, err := os.Open(source)
	if err != nil {
		return Media{}, fmt.Errorf("open media: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return Media{}, fmt.Errorf("stat media: %w", err)
	}
	if info.IsDir() {
		return Media{}, fmt.Errorf("media source %s is a directory", source)
	}

	return writeAtomically(destination, func(w io.Writer) error {
		_, err := io.Copy(w, contextReader{ctx: ctx, r: in})
		return err
	})
}

func (l *Local) download(ctx context.Context, source, destination string) (Media, error) {
	retries := l.Retries
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			l.logger().Warn("retrying media download", zap.Int("attempt", attempt), zap.Int("max", retries), zap.String("url", source))
			if err := l.wait(ctx, time.Duration(attempt)*300*time.Millisecond); err != nil {
				return Media{}, err
			}
		}

		media, err := l.downloadOnce(ctx, source, destination)
		if err == nil {
			return media, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Media{}, ctx.Err()
		}
	}
	return Media{}, lastErr
}

func (l *Local) downloadOnce(ctx context.Context, source, destination string) (Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return Media{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "inspecta/1")

	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Media{}, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Media{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return writeAtomically(destination, func(w io.Writer) error {
		var bar *progressbar.ProgressBar
		if shouldRenderProgress(l.NoProgress, resp.ContentLength) {
			bar = progressbar.NewOptions64(
				resp.ContentLength,
				progressbar.OptionSetDescription("uploading"),
				progressbar.OptionSetWidth(20),
				progressbar.OptionShowBytes(true),
				progressbar.OptionThrottle(65*time.Millisecond),
				progressbar.OptionSetRenderBlankState(true),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionClearOnFinish(),
			)
			w = io.MultiWriter(w, bar)
		}
		if _, err := io.Copy(w, resp.Body); err != nil {
			return fmt.Errorf("download body: %w", err)
		}
		if bar != nil {
			_ = bar.Finish()
		}
		return nil
	})
}

// writeAtomically streams into destination+".part" and renames on success.
func writeAtomically(destination string, fill func(io.Writer) error) (Media, error) {
	tempPath := destination + ".part"
	out, err := os.Create(tempPath)
	if err != nil {
		return Media{}, fmt.Errorf("create temp file: %w", err)
	}

	success := false
	defer func() {
		_ = out.Close()
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	hash := sha256.New()
	counter := &countingWriter{}
	if err := fill(io.MultiWriter(out, hash, counter)); err != nil {
		return Media{}, err
	}
	if err := out.Sync(); err != nil {
		return Media{}, fmt.Errorf("sync temp file: %w", err)
	}
	if err := out.Close(); err != nil {
		return Media{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, destination); err != nil {
		return Media{}, fmt.Errorf("move temp file into destination: %w", err)
	}

	success = true
	return Media{
		Path:   destination,
		Size:   counter.n,
		SHA256: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (l *Local) wait(ctx context.Context, d time.Duration) error {
	if l.sleep != nil {
		l.sleep(d)
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Local) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func sourceName(source string, remote bool) string {
	if remote {
		if u, err := url.Parse(source); err == nil {
			if base := path.Base(u.Path); base != "" && base != "/" && base != "." {
				return base
			}
		}
		return "media"
	}
	return filepath.Base(source)
}

func sanitizeName(name string) string {
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "media"
	}
	return name
}

func shouldRenderProgress(noProgress bool, contentLength int64) bool {
	if noProgress {
		return false
	}
	if contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
