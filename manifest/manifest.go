// Package manifest handles player.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/swfvm/player"
)

// FileName is the name of the configuration file.
const FileName = "player.toml"

// Manifest represents a player.toml configuration.
type Manifest struct {
	Player Player `toml:"player"`
	Decode Decode `toml:"decode"`
	Log    Log    `toml:"log"`
	Run    Run    `toml:"run"`

	// Dir is the directory containing the player.toml file (set at load
	// time). Empty for the defaults.
	Dir string `toml:"-"`
}

// Player tunes the scheduler and interpreters.
type Player struct {
	FrameRate   float64 `toml:"frame-rate"`
	MaxDepth    int     `toml:"max-depth"`
	Budget      int     `toml:"budget"`
	PausedInput string  `toml:"paused-input"`
	GCInterval  int     `toml:"gc-interval"`
	TraceEcho   bool    `toml:"trace-echo"`
}

// Decode configures background asset decoding.
type Decode struct {
	Workers int `toml:"workers"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Run holds defaults for the headless runner.
type Run struct {
	Ticks  int    `toml:"ticks"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// Default returns the configuration used when no player.toml exists.
func Default() *Manifest {
	return &Manifest{
		Player: Player{PausedInput: "defer", GCInterval: 1},
		Decode: Decode{Workers: 4},
		Run:    Run{Ticks: 1, Format: "text"},
	}
}

// Load parses a player.toml file from the given directory. Keys the file
// omits keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a player.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if _, err := player.ParseInputPolicy(m.Player.PausedInput); err != nil {
		return err
	}
	switch {
	case m.Player.FrameRate < 0:
		return fmt.Errorf("frame-rate must not be negative")
	case m.Player.MaxDepth < 0:
		return fmt.Errorf("max-depth must not be negative")
	case m.Player.Budget < 0:
		return fmt.Errorf("budget must not be negative")
	case m.Decode.Workers < 0:
		return fmt.Errorf("decode workers must not be negative")
	}
	switch m.Run.Format {
	case "text", "yaml", "cbor":
	default:
		return fmt.Errorf("unknown run format %q", m.Run.Format)
	}
	return nil
}

// PlayerConfig builds the scheduler configuration.
func (m *Manifest) PlayerConfig() (player.Config, error) {
	policy, err := player.ParseInputPolicy(m.Player.PausedInput)
	if err != nil {
		return player.Config{}, err
	}
	return player.Config{
		FrameRate:     m.Player.FrameRate,
		MaxDepth:      m.Player.MaxDepth,
		Budget:        m.Player.Budget,
		PausedInput:   policy,
		DecodeWorkers: m.Decode.Workers,
		GCInterval:    m.Player.GCInterval,
		TraceEcho:     m.Player.TraceEcho,
	}, nil
}

// LogPath returns the log file path resolved against the manifest
// directory, or "" for standard error.
func (m *Manifest) LogPath() string {
	if m.Log.File == "" || filepath.IsAbs(m.Log.File) {
		return m.Log.File
	}
	return filepath.Join(m.Dir, m.Log.File)
}
