package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/chazu/swfvm/avm"
	"github.com/chazu/swfvm/display"
	"github.com/chazu/swfvm/swf"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/sync/errgroup"
)

// Bitmap formats of DefineBitsLossless.
const (
	bitmapColormapped = 3
	bitmapRGB15       = 4
	bitmapRGB32       = 5
)

type decoded struct {
	def    *display.BitmapDef
	pixels []byte
	err    error
}

// decodedQueue hands finished decodes from the pool to the tick.
type decodedQueue struct {
	mu    sync.Mutex
	items []decoded
}

func (q *decodedQueue) push(d decoded) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
}

func (q *decodedQueue) take() []decoded {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// decodeBitmaps starts decoding every lossless bitmap off the tick. The
// pool never touches the library; results wait in p.decoded until the
// next tick installs them. The returned function cancels pending work.
func (p *Player) decodeBitmaps(defs []*display.BitmapDef) func() {
	if len(defs) == 0 {
		return nil
	}
	slices.SortFunc(defs, func(a, b *display.BitmapDef) int { return int(a.ID) - int(b.ID) })

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	if p.cfg.DecodeWorkers > 0 {
		g.SetLimit(p.cfg.DecodeWorkers)
	}
	go func() {
		for _, def := range defs {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				px, err := decodeLossless(def.Tag)
				p.decoded.push(decoded{def: def, pixels: px, err: err})
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger().Debugf("bitmap decoding stopped: %v", err)
		}
	}()
	return cancel
}

// drainDecoded installs finished bitmaps and queues a complete event for
// each, in character order.
func (p *Player) drainDecoded() {
	items := p.decoded.take()
	slices.SortFunc(items, func(a, b decoded) int { return int(a.def.ID) - int(b.def.ID) })
	for _, d := range items {
		if d.err != nil {
			logger().Warningf("%s: %v", p.ID, d.err)
			continue
		}
		d.def.Pixels = d.pixels
		p.enqueue(Event{Kind: EventComplete, Target: p.Root, Payload: []avm.Value{avm.Int(int(d.def.ID))}})
	}
}

// decodeLossless inflates a lossless bitmap into row-major RGBA.
func decodeLossless(t *swf.DefineBitsLossless) ([]byte, error) {
	w, h := int(t.Width), int(t.Height)
	alpha := t.Version == 2

	var rowLen, tableLen int
	switch t.Format {
	case bitmapColormapped:
		rowLen = (w + 3) &^ 3
		tableLen = int(t.ColorTableSize) + 1
		if alpha {
			tableLen *= 4
		} else {
			tableLen *= 3
		}
	case bitmapRGB15:
		rowLen = (w*2 + 3) &^ 3
	case bitmapRGB32:
		rowLen = w * 4
	default:
		return nil, fmt.Errorf("bitmap %d: unsupported format %d", t.ID, t.Format)
	}

	zr, err := zlib.NewReader(bytes.NewReader(t.ZlibData))
	if err != nil {
		return nil, fmt.Errorf("bitmap %d: %w", t.ID, err)
	}
	defer zr.Close()
	raw := make([]byte, tableLen+rowLen*h)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, fmt.Errorf("bitmap %d: %w", t.ID, err)
	}

	out := make([]byte, 0, w*h*4)
	table, rows := raw[:tableLen], raw[tableLen:]
	for y := range h {
		row := rows[y*rowLen : (y+1)*rowLen]
		for x := range w {
			switch t.Format {
			case bitmapColormapped:
				i := int(row[x])
				if alpha {
					if i*4+3 >= len(table) {
						out = append(out, 0, 0, 0, 0)
						continue
					}
					out = append(out, table[i*4:i*4+4]...)
				} else {
					if i*3+2 >= len(table) {
						out = append(out, 0, 0, 0, 0)
						continue
					}
					out = append(out, table[i*3], table[i*3+1], table[i*3+2], 0xff)
				}
			case bitmapRGB15:
				px := binary.BigEndian.Uint16(row[x*2:])
				r, g, b := byte(px>>10&0x1f), byte(px>>5&0x1f), byte(px&0x1f)
				out = append(out, r<<3|r>>2, g<<3|g>>2, b<<3|b>>2, 0xff)
			case bitmapRGB32:
				a := row[x*4]
				if !alpha {
					a = 0xff
				}
				out = append(out, row[x*4+1], row[x*4+2], row[x*4+3], a)
			}
		}
	}
	return out, nil
}
