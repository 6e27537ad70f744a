// Package gate orders container reveal: a container becomes eligible only once
// every container declared before it has finished delivering its log.
package gate

// Cursor returns the index of the first incomplete entry, or len(completed)
// when every entry is complete.
func Cursor(completed []bool) int {
	for i, done := range completed {
		if !done {
			return i
		}
	}
	return len(completed)
}

// Gate is the completion record of one resource identity. It is owned by a
// single goroutine and is not safe for concurrent use.
type Gate struct {
	epoch     uint64
	completed []bool
	cursor    int
}

// New returns an empty gate at epoch zero.
func New() *Gate {
	return &Gate{}
}

// Reset starts a new identity with n containers, none complete.
func (g *Gate) Reset(epoch uint64, n int) {
	g.epoch = epoch
	g.completed = make([]bool, n)
	g.cursor = 0
}

// Grow extends the record to n containers. It never shrinks.
func (g *Gate) Grow(n int) {
	if n <= len(g.completed) {
		return
	}
	g.completed = append(g.completed, make([]bool, n-len(g.completed))...)
	g.cursor = Cursor(g.completed)
}

// Complete marks ordinal done for epoch and returns the cursor and whether it
// moved. A stale epoch or unknown ordinal leaves the gate untouched.
func (g *Gate) Complete(epoch uint64, ordinal int) (int, bool) {
	if epoch != g.epoch || ordinal < 0 || ordinal >= len(g.completed) {
		return g.cursor, false
	}
	g.completed[ordinal] = true
	next := Cursor(g.completed)
	if next <= g.cursor {
		return g.cursor, false
	}
	g.cursor = next
	return g.cursor, true
}

// Eligible reports whether ordinal may be mounted.
func (g *Gate) Eligible(ordinal int) bool {
	return ordinal >= 0 && ordinal < len(g.completed) && ordinal <= g.cursor
}

// IsComplete reports whether ordinal has signalled completion.
func (g *Gate) IsComplete(ordinal int) bool {
	return ordinal >= 0 && ordinal < len(g.completed) && g.completed[ordinal]
}

func (g *Gate) Cursor() int   { return g.cursor }
func (g *Gate) Epoch() uint64 { return g.epoch }
func (g *Gate) Len() int      { return len(g.completed) }

// Done reports whether every known container is complete.
func (g *Gate) Done() bool {
	return len(g.completed) > 0 && g.cursor == len(g.completed)
}
