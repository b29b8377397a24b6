package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shailesh-ag78/Inspecta/internal/transcribe"
	"go.uber.org/zap"
)

const PathEnv = "INSPECTA_WHISPER_PATH"

// Engine transcribes chunks offline with a local whisper.cpp build. It
// satisfies transcribe.Provider.
type Engine struct {
	Executable string
	ModelPath  string
	Logger     *zap.Logger
}

func NewEngine(modelPath string, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, errors.New("whisper model path is required")
	}

	if override := strings.TrimSpace(os.Getenv(PathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", PathEnv, err)
		}
		return &Engine{Executable: override, ModelPath: modelPath, Logger: logger}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve inspecta executable path: %w", err)
	}

	whisperExe, err := ResolveEnginePath(self)
	if err != nil {
		return nil, err
	}

	return &Engine{Executable: whisperExe, ModelPath: modelPath, Logger: logger}, nil
}

// ResolveEnginePath looks for whisper-cli next to the inspecta binary, then
// on PATH.
func ResolveEnginePath(executable string) (string, error) {
	for _, candidate := range EnginePathCandidates(executable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}
	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("whisper engine not found near %s or on PATH; install whisper-cli or set %s", executable, PathEnv)
}

func EnginePathCandidates(executable string) []string {
	binDir := filepath.Dir(executable)
	engineName := engineBinaryName()
	hostTarget := fmt.Sprintf("%s_%s", runtime.GOOS, normalizeArch(runtime.GOARCH))

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

type output struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func (e *Engine) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Response, error) {
	if strings.TrimSpace(req.Path) == "" {
		return transcribe.Response{}, errors.New("audio path is required")
	}
	if err := ensureExecutable(e.Executable); err != nil {
		return transcribe.Response{}, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	outDir, err := os.MkdirTemp("", "inspecta-whisper-*")
	if err != nil {
		return transcribe.Response{}, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "out")

	args := e.args(req, outBase)
	cmd := exec.CommandContext(ctx, e.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.logger().Debug("running whisper engine", zap.String("engine", e.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return transcribe.Response{}, &transcribe.ProviderError{
				Err: fmt.Errorf("whisper engine at %s is missing required shared libraries (%s)", e.Executable, errText),
			}
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return transcribe.Response{}, &transcribe.ProviderError{
				Err: fmt.Errorf("whisper engine crashed with an illegal CPU instruction; set %s to a whisper-cli built for this CPU", PathEnv),
			}
		}
		return transcribe.Response{}, &transcribe.ProviderError{Err: fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)}
	}

	content, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return transcribe.Response{}, fmt.Errorf("read whisper output: %w", err)
	}
	return parseOutput(content)
}

func (e *Engine) args(req transcribe.Request, outBase string) []string {
	args := []string{"-m", e.ModelPath, "-f", req.Path, "-oj", "-of", outBase}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.Translate {
		args = append(args, "-tr")
	}
	if req.Prompt != "" {
		args = append(args, "--prompt", req.Prompt)
	}
	return args
}

func parseOutput(content []byte) (transcribe.Response, error) {
	var out output
	if err := json.Unmarshal(content, &out); err != nil {
		return transcribe.Response{}, fmt.Errorf("parse whisper output: %w", err)
	}

	resp := transcribe.Response{Language: out.Result.Language}
	texts := make([]string, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		seg := transcribe.Segment{
			Start: float64(item.Offsets.From) / 1000,
			End:   float64(item.Offsets.To) / 1000,
			Text:  item.Text,
		}
		resp.Segments = append(resp.Segments, seg)
		if text := strings.TrimSpace(item.Text); text != "" {
			texts = append(texts, text)
		}
		resp.Duration = seg.End
	}
	resp.Text = strings.Join(texts, " ")
	return resp, nil
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}
