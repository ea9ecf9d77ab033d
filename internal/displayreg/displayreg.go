// Package displayreg assigns a durable internal_id to each physical
// display and matches OS-reported displays against stored records
// across reboots, OS id churn, and reconfiguration.
package displayreg

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

// OSDisplay is what the operating system reports for one connected
// display at detection time.
type OSDisplay struct {
	SystemID    int
	Name        string
	Width       int
	Height      int
	ScaleFactor float64
	IsPrimary   bool
	PosX        int
	PosY        int
}

// MatchType names which of the four passes assigned a stored record to
// an OS-reported display.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchPartial  MatchType = "partial"
	MatchPosition MatchType = "position"
	MatchNew      MatchType = "new"
)

// MatchResult is returned per OS-reported display from DetectAndRegister.
type MatchResult struct {
	SystemID   int
	InternalID types.DisplayID
	Match      MatchType
	Score      int
}

// Registry is the process-wide store of stable display identities.
// Share the pointer; never recreate it inside business logic.
type Registry struct {
	mu      sync.RWMutex
	records []types.Display // insertion order, for scoring tie-breaks
	log     *zap.Logger
	newID   func() types.DisplayID
	now     func() time.Time
}

// New returns an empty Registry using real uuids and the real clock.
func New(log *zap.Logger) *Registry {
	return &Registry{
		log:   log,
		newID: func() types.DisplayID { return types.DisplayID(uuid.NewString()) },
		now:   time.Now,
	}
}

// LoadRecords seeds the registry from persisted records (config_v2.toml's
// Displays section), preserving their original insertion order.
func (r *Registry) LoadRecords(records []types.Display) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append([]types.Display(nil), records...)
}

// Records returns a copy of all stored records, in insertion order.
func (r *Registry) Records() []types.Display {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.Display(nil), r.records...)
}

// scoreExactPartial computes a weighted score from dimension, scale,
// primary, and position-within-1px agreement, and reports whether it
// qualifies as Exact (all four) or Partial (dimensions only).
func scoreExactPartial(rec types.Display, osd OSDisplay) (score int, exact, partial bool) {
	dimMatch := rec.Width == osd.Width && rec.Height == osd.Height
	scaleMatch := math.Abs(rec.ScaleFactor-osd.ScaleFactor) < 1e-3
	primaryMatch := rec.IsPrimary == osd.IsPrimary
	posMatch := rec.LastPositionX != nil && rec.LastPositionY != nil &&
		abs(*rec.LastPositionX-osd.PosX) <= 1 && abs(*rec.LastPositionY-osd.PosY) <= 1

	if dimMatch {
		score += 40
	}
	if scaleMatch {
		score += 20
	}
	if primaryMatch {
		score += 20
	}
	if posMatch {
		score += 20
	}

	exact = dimMatch && scaleMatch && primaryMatch && posMatch
	partial = dimMatch && !exact
	return score, exact, partial
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// relation is a qualitative spatial relation between two bounding boxes,
// used by position matching.
type relation string

const (
	relLeftOf     relation = "left_of"
	relRightOf    relation = "right_of"
	relAbove      relation = "above"
	relBelow      relation = "below"
	relOverlaps   relation = "overlapping"
)

type box struct{ x0, y0, x1, y1 int }

func relationOf(a, b box) relation {
	switch {
	case a.x1 <= b.x0:
		return relLeftOf
	case a.x0 >= b.x1:
		return relRightOf
	case a.y1 <= b.y0:
		return relAbove
	case a.y0 >= b.y1:
		return relBelow
	default:
		return relOverlaps
	}
}

// relationMultiset computes, for one display among peers, its relation
// to every other display.
func relationMultiset(boxes []box, i int) []relation {
	rels := make([]relation, 0, len(boxes)-1)
	for j := range boxes {
		if j == i {
			continue
		}
		rels = append(rels, relationOf(boxes[i], boxes[j]))
	}
	return rels
}

// jaccard computes |A∩B| / |A∪B| over relation multisets, treating each
// multiset as a bag (duplicate relations counted with multiplicity).
func jaccard(a, b []relation) float64 {
	counts := func(rs []relation) map[relation]int {
		m := make(map[relation]int)
		for _, r := range rs {
			m[r]++
		}
		return m
	}
	ca, cb := counts(a), counts(b)
	inter, union := 0, 0
	seen := make(map[relation]bool)
	for r, n := range ca {
		seen[r] = true
		m := cb[r]
		if n < m {
			inter += n
		} else {
			inter += m
		}
		if n > m {
			union += n
		} else {
			union += m
		}
	}
	for r, n := range cb {
		if seen[r] {
			continue
		}
		union += n
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// PositionMatchThreshold is the minimum relation-multiset similarity
// required to assign by position alone.
const PositionMatchThreshold = 0.5

// DetectAndRegister matches each OS-reported display against stored
// records using the four passes in order (Exact, Partial, Position,
// New), creates records for New displays, and updates last_* fields on
// matches. Pass order and insertion-order tie-breaking are deterministic.
func (r *Registry) DetectAndRegister(osDisplays []OSDisplay) []MatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	boxes := make([]box, len(osDisplays))
	for i, d := range osDisplays {
		boxes[i] = box{x0: d.PosX, y0: d.PosY, x1: d.PosX + d.Width, y1: d.PosY + d.Height}
	}

	claimed := make(map[int]bool) // indices into r.records already matched this pass
	results := make([]MatchResult, len(osDisplays))

	assign := func(osIdx int, recIdx int, mt MatchType, score int) {
		rec := r.records[recIdx]
		rec.LastSystemID = intPtr(osDisplays[osIdx].SystemID)
		x, y := osDisplays[osIdx].PosX, osDisplays[osIdx].PosY
		rec.LastPositionX = &x
		rec.LastPositionY = &y
		now := r.now()
		rec.LastDetectedAt = &now
		rec.Width = osDisplays[osIdx].Width
		rec.Height = osDisplays[osIdx].Height
		rec.ScaleFactor = osDisplays[osIdx].ScaleFactor
		rec.IsPrimary = osDisplays[osIdx].IsPrimary
		r.records[recIdx] = rec
		claimed[recIdx] = true
		results[osIdx] = MatchResult{SystemID: osDisplays[osIdx].SystemID, InternalID: rec.InternalID, Match: mt, Score: score}
	}

	matched := make([]bool, len(osDisplays))

	// Pass 1: Exact.
	for i, osd := range osDisplays {
		bestRec, bestScore := -1, -1
		for ri, rec := range r.records {
			if claimed[ri] {
				continue
			}
			score, exact, _ := scoreExactPartial(rec, osd)
			if exact && score > bestScore {
				bestRec, bestScore = ri, score
			}
		}
		if bestRec >= 0 {
			assign(i, bestRec, MatchExact, bestScore)
			matched[i] = true
		}
	}

	// Pass 2: Partial (dimensions only).
	for i, osd := range osDisplays {
		if matched[i] {
			continue
		}
		bestRec, bestScore := -1, -1
		for ri, rec := range r.records {
			if claimed[ri] {
				continue
			}
			score, _, partial := scoreExactPartial(rec, osd)
			if partial && score > bestScore {
				bestRec, bestScore = ri, score
			}
		}
		if bestRec >= 0 {
			assign(i, bestRec, MatchPartial, bestScore)
			matched[i] = true
		}
	}

	// Pass 3: Position (relation-multiset similarity).
	for i := range osDisplays {
		if matched[i] {
			continue
		}
		osRel := relationMultiset(boxes, i)
		bestRec, bestSim := -1, 0.0
		for ri, rec := range r.records {
			if claimed[ri] || rec.LastPositionX == nil {
				continue
			}
			// Build the stored record's historical relation to every
			// other stored record with a known position (claimed or
			// not), approximating the original layout.
			recRel := storedRelationMultiset(r.records, ri, claimed)
			sim := jaccard(osRel, recRel)
			if sim > bestSim {
				bestRec, bestSim = ri, sim
			}
		}
		if bestRec >= 0 && bestSim >= PositionMatchThreshold {
			assign(i, bestRec, MatchPosition, int(bestSim*100))
			matched[i] = true
		}
	}

	// Pass 4: New.
	for i, osd := range osDisplays {
		if matched[i] {
			continue
		}
		id := r.newID()
		now := r.now()
		x, y := osd.PosX, osd.PosY
		rec := types.Display{
			InternalID:     id,
			Name:           osd.Name,
			Width:          osd.Width,
			Height:         osd.Height,
			ScaleFactor:    osd.ScaleFactor,
			IsPrimary:      osd.IsPrimary,
			LastSystemID:   intPtr(osd.SystemID),
			LastPositionX:  &x,
			LastPositionY:  &y,
			LastDetectedAt: &now,
		}
		r.records = append(r.records, rec)
		results[i] = MatchResult{SystemID: osd.SystemID, InternalID: id, Match: MatchNew, Score: 0}
		if r.log != nil {
			r.log.Info("registered new display", zap.String("internal_id", string(id)), zap.Int("system_id", osd.SystemID))
		}
	}

	return results
}

func storedRelationMultiset(records []types.Display, i int, claimed map[int]bool) []relation {
	boxes := make([]box, len(records))
	valid := make([]bool, len(records))
	for j, rec := range records {
		if rec.LastPositionX == nil || rec.LastPositionY == nil {
			continue
		}
		boxes[j] = box{x0: *rec.LastPositionX, y0: *rec.LastPositionY, x1: *rec.LastPositionX + rec.Width, y1: *rec.LastPositionY + rec.Height}
		valid[j] = true
	}
	rels := make([]relation, 0, len(records)-1)
	for j := range records {
		if j == i || !valid[i] || !valid[j] {
			continue
		}
		rels = append(rels, relationOf(boxes[i], boxes[j]))
	}
	return rels
}

func intPtr(n int) *int { return &n }

// Resolve returns the last known OS system id for internal_id.
func (r *Registry) Resolve(id types.DisplayID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.InternalID == id {
			if rec.LastSystemID == nil {
				return 0, types.ErrDisplayNotFound
			}
			return *rec.LastSystemID, nil
		}
	}
	return 0, types.ErrDisplayNotFound
}

// ResolveReverse returns the internal_id for a legacy-delivered OS
// system id.
func (r *Registry) ResolveReverse(systemID int) (types.DisplayID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.LastSystemID != nil && *rec.LastSystemID == systemID {
			return rec.InternalID, nil
		}
	}
	return "", types.ErrDisplayNotFound
}
