package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/swfvm/display"
	"github.com/chazu/swfvm/manifest"
	"github.com/chazu/swfvm/player"
	"github.com/chazu/swfvm/swf"
)

func boxMovie() []byte {
	b := swf.NewBuilder(8, 12, 2)
	b.SetBackgroundColor(swf.RGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})
	b.DefineShape(1, swf.Rect{XMax: 200, YMax: 200})
	b.PlaceObject2(1, 1, false, &swf.Matrix{ScaleX: 1, ScaleY: 1, TranslateX: 200, TranslateY: 400}, "box")
	b.ShowFrame()
	b.ShowFrame()
	return b.Bytes()
}

// ---------------------------------------------------------------------------
// Formats
// ---------------------------------------------------------------------------

func TestFormatText(t *testing.T) {
	s := &display.Snapshot{
		Tick:       3,
		Frame:      2,
		Background: swf.RGBA{R: 0xff, A: 0xff},
		Entries: []display.Entry{
			{Depth: 1, Name: "box", Matrix: swf.Matrix{ScaleX: 1, ScaleY: 1, TranslateX: 40, TranslateY: 60},
				Content: display.Content{Kind: display.KindShape, Character: 1}, Visible: true},
			{Depth: 2, Level: 1, Content: display.Content{Kind: display.KindText, Character: 4, Text: "hi"}},
		},
	}
	got := formatText(s)
	want := "tick 3 frame 2 background #ff0000\n" +
		"  1 shape #1 \"box\" at (2, 3)\n" +
		"    2 text #4 at (0, 0) text \"hi\" hidden\n"
	if got != want {
		t.Errorf("formatText:\n%s\nwant:\n%s", got, want)
	}
}

func TestDumperFormats(t *testing.T) {
	s := &display.Snapshot{Tick: 1, Frame: 1, Entries: []display.Entry{{Name: "box", Visible: true}}}

	var buf bytes.Buffer
	d, err := newDumper(&buf, "yaml")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Render(s); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "name: box") {
		t.Errorf("yaml output missing entry name:\n%s", buf.String())
	}

	buf.Reset()
	d, err = newDumper(&buf, "cbor")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Render(s); err != nil {
		t.Fatal(err)
	}
	back, err := display.UnmarshalSnapshot(buf.Bytes())
	if err != nil {
		t.Fatalf("UnmarshalSnapshot: %v", err)
	}
	if back.Tick != 1 || len(back.Entries) != 1 || back.Entries[0].Name != "box" {
		t.Errorf("cbor round trip = %+v", back)
	}

	if _, err := newDumper(&buf, "xml"); err == nil {
		t.Error("newDumper accepted xml")
	}
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

func TestRunTicksDumpsLastSnapshot(t *testing.T) {
	p, err := player.Load(boxMovie(), player.Config{})
	if err != nil {
		t.Fatal(err)
	}
	w := player.NewWorker(p)
	defer w.Stop()

	var buf bytes.Buffer
	d, _ := newDumper(&buf, "text")
	ran, err := runTicks(w, 3, d, false)
	if err != nil {
		t.Fatalf("runTicks: %v", err)
	}
	if ran != 3 {
		t.Errorf("ran %d ticks, want 3", ran)
	}
	out := buf.String()
	if strings.Count(out, "tick ") != 1 || !strings.HasPrefix(out, "tick 3 ") {
		t.Errorf("output:\n%s", out)
	}
	if !strings.Contains(out, `shape #1 "box" at (10, 20)`) {
		t.Errorf("box entry missing:\n%s", out)
	}
	if !strings.Contains(out, "background #102030") {
		t.Errorf("background missing:\n%s", out)
	}
}

func TestRunWritesEveryTick(t *testing.T) {
	dir := t.TempDir()
	movie := filepath.Join(dir, "box.swf")
	if err := os.WriteFile(movie, boxMovie(), 0644); err != nil {
		t.Fatal(err)
	}

	m := manifest.Default()
	m.Run.Ticks = 4
	m.Run.Output = filepath.Join(dir, "out.txt")
	if err := run(movie, m, true, false, true); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(m.Run.Output)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "tick "); n != 4 {
		t.Errorf("%d snapshots written, want 4:\n%s", n, data)
	}
}

func TestRunRejectsMissingFile(t *testing.T) {
	if err := run(filepath.Join(t.TempDir(), "none.swf"), manifest.Default(), false, false, true); err == nil {
		t.Error("run succeeded on a missing file")
	}
}
