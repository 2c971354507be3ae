package room

type Instrument string

const (
	Kick  Instrument = "kick"
	Snare Instrument = "snare"
	Hihat Instrument = "hihat"
)

// Instruments is the fixed row order, also the hint reveal order.
var Instruments = []Instrument{Kick, Snare, Hihat}

const Beats = 4

// MinNotes is the number of active cells a pattern needs to count as complete.
const MinNotes = 3

var allowedBeats = map[Instrument][Beats]bool{
	Kick:  {true, false, true, false},
	Snare: {false, true, false, true},
	Hihat: {true, true, true, true},
}

type Grid map[Instrument][Beats]bool

func NewGrid() Grid {
	g := make(Grid, len(Instruments))
	for _, inst := range Instruments {
		g[inst] = [Beats]bool{}
	}
	return g
}

// AllowedBeat reports whether inst may sound on beat. Kick lands on 0 and 2,
// snare on 1 and 3, hihat anywhere.
func AllowedBeat(inst Instrument, beat int) bool {
	if beat < 0 || beat >= Beats {
		return false
	}
	row, ok := allowedBeats[inst]
	return ok && row[beat]
}

// Set writes one cell. Turning a cell on outside the instrument's allowed
// beats is rejected before the grid changes.
func (g Grid) Set(inst Instrument, beat int, on bool) error {
	if _, ok := allowedBeats[inst]; !ok || beat < 0 || beat >= Beats {
		return ErrInvalidGrid
	}
	if on && !AllowedBeat(inst, beat) {
		return ErrBeatNotAllowed
	}
	row := g[inst]
	row[beat] = on
	g[inst] = row
	return nil
}

// Toggle flips one cell. An unknown instrument or a beat outside the grid
// returns ErrInvalidGrid.
func (g Grid) Toggle(inst Instrument, beat int) error {
	if _, ok := allowedBeats[inst]; !ok || beat < 0 || beat >= Beats {
		return ErrInvalidGrid
	}
	return g.Set(inst, beat, !g[inst][beat])
}

func (g Grid) ActiveNotes() int {
	n := 0
	for _, row := range g {
		for _, on := range row {
			if on {
				n++
			}
		}
	}
	return n
}

// Validate checks that g has only known instruments and no active cell on a
// disallowed beat.
func (g Grid) Validate() error {
	for inst, row := range g {
		if _, ok := allowedBeats[inst]; !ok {
			return ErrInvalidGrid
		}
		for beat, on := range row {
			if on && !AllowedBeat(inst, beat) {
				return ErrInvalidGrid
			}
		}
	}
	return nil
}

// Equal compares every instrument row; a missing row equals an all-off row.
func (g Grid) Equal(o Grid) bool {
	for _, inst := range Instruments {
		if g[inst] != o[inst] {
			return false
		}
	}
	return true
}

func (g Grid) Clone() Grid {
	c := make(Grid, len(g))
	for inst, row := range g {
		c[inst] = row
	}
	return c
}
