package main

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/beat-escape-backend/internal/room"
)

// parseGrid reads "kick=x.x.,snare=.x.x,hihat=xxxx": one row per
// instrument, x for on and . for off. Missing rows are all off.
func parseGrid(s string) (room.Grid, error) {
	g := room.NewGrid()
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, cells, ok := strings.Cut(part, "=")
		if !ok || len(cells) != room.Beats {
			return nil, fmt.Errorf("%w: row %q, want instrument=%s", room.ErrInvalidGrid, part, strings.Repeat(".", room.Beats))
		}
		inst := room.Instrument(strings.ToLower(name))
		if _, known := g[inst]; !known {
			return nil, fmt.Errorf("%w: unknown instrument %q", room.ErrInvalidGrid, name)
		}
		var row [room.Beats]bool
		for i, c := range cells {
			switch c {
			case 'x', 'X':
				row[i] = true
			case '.', '-':
			default:
				return nil, fmt.Errorf("%w: cell %q in %q", room.ErrInvalidGrid, c, part)
			}
		}
		g[inst] = row
	}
	return g, nil
}

func formatGrid(g room.Grid) string {
	rows := make([]string, 0, len(room.Instruments))
	for _, inst := range room.Instruments {
		var b strings.Builder
		for _, on := range g[inst] {
			if on {
				b.WriteByte('x')
			} else {
				b.WriteByte('.')
			}
		}
		rows = append(rows, string(inst)+"="+b.String())
	}
	return strings.Join(rows, ",")
}
