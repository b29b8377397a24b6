package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "inspecta"

// Layout is where inspecta keeps its files under one data directory.
type Layout struct {
	Root        string
	Media       string
	Audio       string
	Chunks      string
	Checkpoints string
	Records     string
	Models      string
}

func LayoutFor(root string) Layout {
	return Layout{
		Root:        root,
		Media:       filepath.Join(root, "media"),
		Audio:       filepath.Join(root, "audio"),
		Chunks:      filepath.Join(root, "chunks"),
		Checkpoints: filepath.Join(root, "checkpoints"),
		Records:     filepath.Join(root, "records.json"),
		Models:      filepath.Join(root, "models"),
	}
}

// Ensure creates the layout's directories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Media, l.Audio, l.Chunks, l.Checkpoints} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func DefaultDataDirFor(goos, homeDir, xdgDataHome, localAppData string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	case "windows":
		if localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		return filepath.Join(homeDir, "AppData", "Local", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

// ResolveDataDir returns override when set, else the per-user default.
func ResolveDataDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultDataDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"), os.Getenv("LOCALAPPDATA"))
}
