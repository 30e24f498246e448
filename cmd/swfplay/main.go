// swfplay runs a movie headlessly and dumps display snapshots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/swfvm/manifest"
	"github.com/chazu/swfvm/player"
)

func main() {
	configDir := flag.String("config", ".", "Directory to search upward for player.toml")
	ticks := flag.Int("n", 0, "Number of ticks to run (default from player.toml, else 1)")
	format := flag.String("format", "", "Snapshot format: text, yaml or cbor")
	output := flag.String("o", "", "Write snapshots to this file instead of stdout")
	every := flag.Bool("every", false, "Dump a snapshot after every tick, not only the last")
	rate := flag.Float64("rate", 0, "Override the movie frame rate")
	realtime := flag.Bool("realtime", false, "Tick on a wall clock at the frame rate")
	verbose := flag.Int("v", -1, "Log verbosity (default from player.toml)")
	quiet := flag.Bool("q", false, "Do not print trace output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: swfplay [options] movie.swf\n\n")
		fmt.Fprintf(os.Stderr, "Loads a movie, runs it for a number of ticks and dumps the display list.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  swfplay intro.swf                   # One tick, text dump\n")
		fmt.Fprintf(os.Stderr, "  swfplay -n 48 -format yaml intro.swf\n")
		fmt.Fprintf(os.Stderr, "  swfplay -n 100 -every -format cbor -o frames.cbor game.swf\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logPath *string
	if path := m.LogPath(); path != "" {
		logPath = &path
	}
	commonlog.Configure(verbosity, logPath)

	if *ticks > 0 {
		m.Run.Ticks = *ticks
	}
	if *format != "" {
		m.Run.Format = *format
	}
	if *output != "" {
		m.Run.Output = *output
	}
	if *rate > 0 {
		m.Player.FrameRate = *rate
	}

	if err := run(flag.Arg(0), m, *every, *realtime, *quiet); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, m *manifest.Manifest, every, realtime, quiet bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg, err := m.PlayerConfig()
	if err != nil {
		return err
	}

	out := os.Stdout
	if m.Run.Output != "" {
		f, err := os.Create(m.Run.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	d, err := newDumper(out, m.Run.Format)
	if err != nil {
		return err
	}
	if every {
		cfg.Renderer = d
	}

	registry := player.NewRegistry()
	p, err := registry.Load(data, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer registry.Destroy(p.ID)

	if !quiet {
		p.SetTraceObserver(func(msg string) { fmt.Println(msg) })
	}
	p.OnUncaught(func(err error) { fmt.Fprintf(os.Stderr, "uncaught: %v\n", err) })
	p.SetNavigateObserver(func(url, window string) {
		fmt.Fprintf(os.Stderr, "navigate: %s (%s)\n", url, window)
	})

	w := player.NewWorker(p)
	defer w.Stop()

	var ran int
	if realtime {
		ran, err = runRealtime(w, m.Run.Ticks, p.FrameRate())
	} else {
		ran, err = runTicks(w, m.Run.Ticks, d, every)
	}
	if err != nil {
		return err
	}

	summary, _ := w.Do(func(p *player.Player) (any, error) {
		st := p.Heap.LastStats()
		return fmt.Sprintf("%s: %s, %d ticks at %.4g fps, %s live objects, %s collections",
			path, humanize.Bytes(uint64(len(data))), ran, p.FrameRate(),
			humanize.Comma(int64(p.Heap.Live())), humanize.Comma(int64(st.CollectionsRun))), nil
	})
	fmt.Fprintln(os.Stderr, summary)
	return nil
}

// runTicks ticks n times as fast as possible. Without every, only the
// last snapshot is dumped.
func runTicks(w *player.Worker, n int, d *dumper, every bool) (int, error) {
	ran := 0
	for range n {
		snap, err := w.Tick()
		if errors.Is(err, player.ErrDestroyed) {
			break
		}
		if err != nil {
			return ran, err
		}
		ran++
		if !every && ran == n {
			if err := d.Render(snap); err != nil {
				return ran, err
			}
		}
	}
	return ran, nil
}

// runRealtime ticks on a wall clock for the duration of n frames or until
// interrupted.
func runRealtime(w *player.Worker, n int, rate float64) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(float64(n)*float64(time.Second)/rate))
	defer cancel()

	err := w.Run(ctx)
	v, _ := w.Do(func(p *player.Player) (any, error) { return p.Ticks(), nil })
	ticks, _ := v.(uint64)
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, player.ErrDestroyed) || errors.Is(err, player.ErrWorkerStopped) {
		return int(ticks), nil
	}
	return int(ticks), err
}
