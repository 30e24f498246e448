package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/swfvm/player"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[player]
frame-rate = 30
max-depth = 64
budget = 100000
paused-input = "drop"
gc-interval = 5
trace-echo = true

[decode]
workers = 2

[log]
verbosity = 2
file = "logs/player.log"

[run]
ticks = 120
format = "yaml"
output = "out.yaml"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Player.FrameRate != 30 {
		t.Errorf("frame-rate = %v, want 30", m.Player.FrameRate)
	}
	if m.Player.MaxDepth != 64 || m.Player.Budget != 100000 {
		t.Errorf("max-depth %d budget %d", m.Player.MaxDepth, m.Player.Budget)
	}
	if m.Decode.Workers != 2 {
		t.Errorf("decode workers = %d, want 2", m.Decode.Workers)
	}
	if m.Run.Ticks != 120 || m.Run.Format != "yaml" || m.Run.Output != "out.yaml" {
		t.Errorf("run = %+v", m.Run)
	}
	if want := filepath.Join(m.Dir, "logs", "player.log"); m.LogPath() != want {
		t.Errorf("LogPath = %q, want %q", m.LogPath(), want)
	}

	cfg, err := m.PlayerConfig()
	if err != nil {
		t.Fatalf("PlayerConfig: %v", err)
	}
	if cfg.PausedInput != player.DropInput || cfg.GCInterval != 5 || !cfg.TraceEcho || cfg.DecodeWorkers != 2 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[player]
frame-rate = 12
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Player.PausedInput != "defer" {
		t.Errorf("paused-input = %q, want defer", m.Player.PausedInput)
	}
	if m.Decode.Workers != 4 || m.Run.Format != "text" || m.Run.Ticks != 1 {
		t.Errorf("defaults not applied: %+v", m)
	}
	if m.LogPath() != "" {
		t.Errorf("LogPath = %q, want empty", m.LogPath())
	}
}

func TestLoadManifestRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"policy", "[player]\npaused-input = \"later\"\n"},
		{"negative rate", "[player]\nframe-rate = -1\n"},
		{"format", "[run]\nformat = \"xml\"\n"},
		{"syntax", "[player\n"},
	}
	for _, tt := range tests {
		dir := t.TempDir()
		writeManifest(t, dir, tt.content)
		if _, err := Load(dir); err == nil {
			t.Errorf("%s: Load succeeded", tt.name)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[player]\nbudget = 7\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m == nil || m.Player.Budget != 7 {
		t.Fatalf("manifest = %+v", m)
	}
	abs, _ := filepath.Abs(root)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadMissing(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if m != nil {
		// A player.toml above the temp dir would be found; nothing to check.
		t.Skipf("found %s above the temp dir", m.Dir)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := Default().PlayerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PausedInput != player.DeferInput || cfg.GCInterval != 1 {
		t.Errorf("default config = %+v", cfg)
	}
}
