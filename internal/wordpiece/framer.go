package wordpiece

// Framer wraps token sequences in start/end sentinels and removes reserved
// pieces, other than unknown, on the way back to text.
type Framer struct {
	startID int
	endID   int
	drop    map[string]bool
}

// NewFramer builds a Framer from the resolved sentinels and the reserved list.
func NewFramer(reserved []string, unknown string, s Sentinels) *Framer {
	drop := make(map[string]bool, len(reserved))
	for _, tok := range reserved {
		if tok != unknown {
			drop[tok] = true
		}
	}
	return &Framer{startID: s.Start, endID: s.End, drop: drop}
}

// Frame returns [start] + ids + [end] in a new slice.
func (f *Framer) Frame(ids []int) []int {
	out := make([]int, 0, len(ids)+2)
	out = append(out, f.startID)
	out = append(out, ids...)
	return append(out, f.endID)
}

// Clean drops reserved pieces other than unknown, keeping order. It runs on
// looked-up pieces before they are joined into text.
func (f *Framer) Clean(pieces []string) []string {
	out := pieces[:0:0]
	for _, p := range pieces {
		if f.drop[p] {
			continue
		}
		out = append(out, p)
	}
	return out
}
