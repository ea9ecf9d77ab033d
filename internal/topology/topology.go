// Package topology is the source of truth for how LEDs are arranged and
// wired: an ordered list of strips and the derived mappers that locate
// each strip inside the global LED index space (spec.md §4.3).
package topology

import (
	"sort"
	"sync"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// Topology holds the strip list and the color calibration under a
// single writer lock; readers take cheap snapshots. Mutations publish
// on Changes() so the Publisher Loop can rebuild its cached plan.
type Topology struct {
	mu      sync.RWMutex
	strips  map[int]types.Strip
	cal     types.Calibration
	changed chan struct{}
}

// New returns an empty topology with default (identity) calibration.
func New() *Topology {
	return &Topology{
		strips:  make(map[int]types.Strip),
		cal:     types.DefaultCalibration(),
		changed: make(chan struct{}, 1),
	}
}

// Changes returns a channel that receives a value (coalesced, latest-wins)
// after every mutation. Consumers should drain it in a select loop.
func (t *Topology) Changes() <-chan struct{} {
	return t.changed
}

func (t *Topology) notify() {
	select {
	case t.changed <- struct{}{}:
	default:
	}
}

// List returns all strips ordered by Index.
func (t *Topology) List() []types.Strip {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Strip, 0, len(t.strips))
	for _, s := range t.strips {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ColorCalibration returns the current calibration snapshot.
func (t *Topology) ColorCalibration() types.Calibration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cal
}

// SetColorCalibration replaces the calibration and notifies watchers.
func (t *Topology) SetColorCalibration(cal types.Calibration) {
	t.mu.Lock()
	t.cal = cal
	t.mu.Unlock()
	t.notify()
}

// Upsert inserts or replaces a strip by Index.
func (t *Topology) Upsert(s types.Strip) error {
	if s.Len < 0 || s.Len > types.MaxStripLen {
		return types.ErrOverflow
	}
	if !s.LedType.Valid() {
		s.LedType = types.LedTypeGRB
	}
	t.mu.Lock()
	t.strips[s.Index] = s
	t.mu.Unlock()
	t.notify()
	return nil
}

// Remove deletes the strip at index, if present.
func (t *Topology) Remove(index int) {
	t.mu.Lock()
	delete(t.strips, index)
	t.mu.Unlock()
	t.notify()
}

// findLocked locates the strip for (display, border) under the read lock's
// caller-held lock. Callers must hold t.mu for at least reading.
func (t *Topology) findLocked(display types.DisplayID, border types.Border) (types.Strip, bool) {
	for _, s := range t.strips {
		if s.DisplayInternalID == display && s.Border == border {
			return s, true
		}
	}
	return types.Strip{}, false
}

// PatchLen adjusts a strip's length by delta, rejecting the mutation
// with ErrOverflow if the result would leave [0, MaxStripLen].
func (t *Topology) PatchLen(display types.DisplayID, border types.Border, delta int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.findLocked(display, border)
	if !ok {
		return types.ErrDisplayNotFound
	}
	newLen := s.Len + delta
	if newLen < 0 || newLen > types.MaxStripLen {
		return types.ErrOverflow
	}
	s.Len = newLen
	t.strips[s.Index] = s
	t.notify()
	return nil
}

// PatchType changes a strip's LED chip type.
func (t *Topology) PatchType(display types.DisplayID, border types.Border, ledType types.LedType) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.findLocked(display, border)
	if !ok {
		return types.ErrDisplayNotFound
	}
	s.LedType = ledType
	t.strips[s.Index] = s
	t.notify()
	return nil
}

// Reverse toggles a strip's Reversed flag. Reverse(Reverse(s)) == s.
func (t *Topology) Reverse(display types.DisplayID, border types.Border) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.findLocked(display, border)
	if !ok {
		return types.ErrDisplayNotFound
	}
	s.Reversed = !s.Reversed
	t.strips[s.Index] = s
	t.notify()
	return nil
}

// MovePart relocates the strip at (display, border) so it sorts at
// targetIndex in the global index ordering, preserving per-strip
// identity. Per DESIGN.md's Open Question resolution, this does not
// densely renumber the whole topology: only the moved strip's Index and
// the indices of strips it crosses over change (each crossed strip by
// one), and any pre-existing gaps elsewhere are left untouched.
func (t *Topology) MovePart(display types.DisplayID, border types.Border, targetIndex int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	moving, ok := t.findLocked(display, border)
	if !ok {
		return types.ErrDisplayNotFound
	}
	oldIndex := moving.Index
	if oldIndex == targetIndex {
		return nil
	}

	others := make([]types.Strip, 0, len(t.strips)-1)
	for _, s := range t.strips {
		if s.Index != oldIndex {
			others = append(others, s)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].Index < others[j].Index })

	// anchor is the first other strip (in ascending Index order) at or
	// past targetIndex. On a forward move the anchor keeps its Index, the
	// strips strictly between oldIndex and the anchor shift down by one,
	// and the moved strip lands just before the anchor. On a backward move
	// the moved strip takes the anchor's Index and the strips from the
	// anchor up to oldIndex shift up by one. A strip outside that span
	// keeps its Index untouched, gaps included.
	anchorPos := len(others)
	for i, s := range others {
		if s.Index >= targetIndex {
			anchorPos = i
			break
		}
	}

	next := make(map[int]types.Strip, len(t.strips))
	switch {
	case anchorPos == len(others) || (targetIndex < oldIndex && others[anchorPos].Index > oldIndex):
		// Nothing stands between the moved strip and its destination.
		moving.Index = targetIndex
		for _, s := range others {
			next[s.Index] = s
		}
	case targetIndex > oldIndex:
		anchorIndex := others[anchorPos].Index
		for _, s := range others {
			if s.Index > oldIndex && s.Index < anchorIndex {
				s.Index--
			}
			next[s.Index] = s
		}
		moving.Index = anchorIndex - 1
	default: // targetIndex < oldIndex, anchor lies within (targetIndex, oldIndex)
		anchorIndex := others[anchorPos].Index
		for _, s := range others {
			if s.Index >= anchorIndex && s.Index < oldIndex {
				s.Index++
			}
			next[s.Index] = s
		}
		moving.Index = anchorIndex
	}
	next[moving.Index] = moving

	t.strips = next
	t.notify()
	return nil
}

// GenerateMappers recomputes prefix sums over strips sorted by Index and
// produces one Mapper per strip, per spec.md §3.
func GenerateMappers(strips []types.Strip) []types.Mapper {
	sorted := make([]types.Strip, len(strips))
	copy(sorted, strips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	mappers := make([]types.Mapper, 0, len(sorted))
	prefix := 0
	for _, s := range sorted {
		var m types.Mapper
		if s.Reversed {
			m = types.Mapper{StripIndex: s.Index, Start: prefix + s.Len, End: prefix, Pos: prefix}
		} else {
			m = types.Mapper{StripIndex: s.Index, Start: prefix, End: prefix + s.Len, Pos: prefix}
		}
		mappers = append(mappers, m)
		prefix += s.Len
	}
	return mappers
}

// TotalLEDs sums Len across strips.
func TotalLEDs(strips []types.Strip) int {
	n := 0
	for _, s := range strips {
		n += s.Len
	}
	return n
}

// WireSize sums Len*BytesPerLED across strips — the wire buffer size.
func WireSize(strips []types.Strip) int {
	n := 0
	for _, s := range strips {
		n += s.Len * s.LedType.BytesPerLED()
	}
	return n
}
