package version

import (
	"errors"
	"runtime/debug"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeGit struct {
	repo     bool
	exact    bool
	describe string
	descErr  error
}

func (f fakeGit) run(args ...string) (string, error) {
	switch {
	case len(args) == 0:
		return "", errors.New("no args")
	case !f.repo:
		return "", errors.New("not a git repository")
	case args[0] == "rev-parse":
		return ".git", nil
	case slices.Contains(args, "--exact-match"):
		if f.exact {
			return "v0.1.0", nil
		}
		return "", errors.New("no tag")
	case args[0] == "describe":
		return f.describe, f.descErr
	}
	return "", errors.New("unexpected git call")
}

func TestResolveVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		git  fakeGit
		want string
	}{
		{name: "tagged release", base: "0.1.0", git: fakeGit{repo: true, exact: true}, want: "0.1.0"},
		{name: "commits after tag", base: "0.1.0", git: fakeGit{repo: true, describe: "v0.1.0-3-gabcdef"}, want: "0.1.0-3-gabcdef"},
		{name: "dirty tree", base: "0.1.0", git: fakeGit{repo: true, describe: "v0.1.0-3-gabcdef-dirty"}, want: "0.1.0-3-gabcdef-dirty"},
		{name: "no tags", base: "0.1.0", git: fakeGit{repo: true, describe: "abcdef"}, want: "0.1.0-abcdef"},
		{name: "not a repo", base: "0.1.0", git: fakeGit{}, want: "0.1.0"},
		{name: "empty base", base: "", git: fakeGit{}, want: "0.0.0"},
		{name: "describe fails", base: "0.1.0", git: fakeGit{repo: true, descErr: errors.New("boom")}, want: "0.1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, resolveVersion(tt.base, tt.git.run))
		})
	}
}

func TestFillFromBuildSettings(t *testing.T) {
	t.Parallel()

	settings := []debug.BuildSetting{
		{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		{Key: "vcs.time", Value: "2026-10-01T10:00:00Z"},
	}

	got := fillFromBuildSettings(Info{Version: "0.1.0", Commit: "unknown", Date: "unknown"}, settings)
	require.Equal(t, Info{Version: "0.1.0", Commit: "0123456789ab", Date: "2026-10-01T10:00:00Z"}, got)

	stamped := Info{Version: "1.2.0", Commit: "release", Date: "2026-09-30"}
	require.Equal(t, stamped, fillFromBuildSettings(stamped, settings))
}
