package main

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/chazu/swfvm/display"
)

// dumper writes snapshots in one of the supported formats. It doubles as
// the player's renderer when every tick is dumped.
type dumper struct {
	w      io.Writer
	format string
	yaml   *yaml.Encoder
}

func newDumper(w io.Writer, format string) (*dumper, error) {
	d := &dumper{w: w, format: format}
	switch format {
	case "text", "cbor":
	case "yaml":
		d.yaml = yaml.NewEncoder(w)
		d.yaml.SetIndent(2)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	return d, nil
}

// Render writes one snapshot. CBOR output is a sequence of items, YAML
// output a stream of documents.
func (d *dumper) Render(s *display.Snapshot) error {
	if s == nil {
		return nil
	}
	switch d.format {
	case "yaml":
		return d.yaml.Encode(s)
	case "cbor":
		data, err := display.MarshalSnapshot(s)
		if err != nil {
			return err
		}
		_, err = d.w.Write(data)
		return err
	default:
		_, err := io.WriteString(d.w, formatText(s))
		return err
	}
}

func formatText(s *display.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %d frame %d background #%02x%02x%02x\n",
		s.Tick, s.Frame, s.Background.R, s.Background.G, s.Background.B)
	for i := range s.Entries {
		e := &s.Entries[i]
		b.WriteString(strings.Repeat("  ", e.Level+1))
		fmt.Fprintf(&b, "%d %s #%d", e.Depth, e.Content.Kind, e.Content.Character)
		if e.Name != "" {
			fmt.Fprintf(&b, " %q", e.Name)
		}
		a := e.Aff3()
		fmt.Fprintf(&b, " at (%g, %g)", a[2], a[5])
		if e.Content.Text != "" {
			fmt.Fprintf(&b, " text %q", e.Content.Text)
		}
		if !e.Visible {
			b.WriteString(" hidden")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
