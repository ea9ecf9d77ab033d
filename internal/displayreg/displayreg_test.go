package displayreg

import (
	"testing"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
)

func TestDetectAndRegister_NewDisplay(t *testing.T) {
	r := New(nil)
	results := r.DetectAndRegister([]OSDisplay{
		{SystemID: 1, Name: "Dell", Width: 1920, Height: 1080, ScaleFactor: 1.0, IsPrimary: true, PosX: 0, PosY: 0},
	})
	if len(results) != 1 || results[0].Match != MatchNew {
		t.Fatalf("got %+v, want one MatchNew result", results)
	}
	if len(r.Records()) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(r.Records()))
	}
}

func TestDetectAndRegister_ExactMatch(t *testing.T) {
	r := New(nil)
	first := r.DetectAndRegister([]OSDisplay{
		{SystemID: 1, Width: 1920, Height: 1080, ScaleFactor: 1.0, IsPrimary: true, PosX: 0, PosY: 0},
	})
	id := first[0].InternalID

	second := r.DetectAndRegister([]OSDisplay{
		{SystemID: 7, Width: 1920, Height: 1080, ScaleFactor: 1.0, IsPrimary: true, PosX: 0, PosY: 0},
	})
	if second[0].Match != MatchExact {
		t.Fatalf("got %v, want MatchExact", second[0].Match)
	}
	if second[0].InternalID != id {
		t.Fatalf("exact match should reuse internal_id across OS id churn: got %q, want %q", second[0].InternalID, id)
	}
	if len(r.Records()) != 1 {
		t.Fatalf("exact match must not create a new record, got %d records", len(r.Records()))
	}
}

func TestDetectAndRegister_PartialMatch(t *testing.T) {
	r := New(nil)
	first := r.DetectAndRegister([]OSDisplay{
		{SystemID: 1, Width: 1920, Height: 1080, ScaleFactor: 1.0, IsPrimary: true, PosX: 0, PosY: 0},
	})
	id := first[0].InternalID

	// Same dimensions, different scale/primary/position -> Partial, not Exact.
	second := r.DetectAndRegister([]OSDisplay{
		{SystemID: 2, Width: 1920, Height: 1080, ScaleFactor: 2.0, IsPrimary: false, PosX: 500, PosY: 500},
	})
	if second[0].Match != MatchPartial {
		t.Fatalf("got %v, want MatchPartial", second[0].Match)
	}
	if second[0].InternalID != id {
		t.Fatalf("partial match should still resolve to the stored record")
	}
}

func TestResolveAndResolveReverse(t *testing.T) {
	r := New(nil)
	results := r.DetectAndRegister([]OSDisplay{
		{SystemID: 42, Width: 2560, Height: 1440, ScaleFactor: 1.0, IsPrimary: true, PosX: 0, PosY: 0},
	})
	id := results[0].InternalID

	sysID, err := r.Resolve(id)
	if err != nil || sysID != 42 {
		t.Fatalf("Resolve = (%d, %v), want (42, nil)", sysID, err)
	}

	gotID, err := r.ResolveReverse(42)
	if err != nil || gotID != id {
		t.Fatalf("ResolveReverse = (%q, %v), want (%q, nil)", gotID, err, id)
	}
}

func TestResolveUnknownReturnsDisplayNotFound(t *testing.T) {
	r := New(nil)
	if _, err := r.Resolve("ghost"); err != types.ErrDisplayNotFound {
		t.Fatalf("got %v, want ErrDisplayNotFound", err)
	}
	if _, err := r.ResolveReverse(999); err != types.ErrDisplayNotFound {
		t.Fatalf("got %v, want ErrDisplayNotFound", err)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	a := []relation{relLeftOf, relAbove}
	b := []relation{relLeftOf, relBelow}
	sim := jaccard(a, b)
	if sim != 1.0/3.0 {
		t.Fatalf("jaccard = %v, want 1/3", sim)
	}
	if jaccard(a, a) != 1.0 {
		t.Fatalf("jaccard(a,a) should be 1.0")
	}
}

func TestRelationOf(t *testing.T) {
	left := box{x0: 0, y0: 0, x1: 100, y1: 100}
	right := box{x0: 200, y0: 0, x1: 300, y1: 100}
	if relationOf(left, right) != relLeftOf {
		t.Fatalf("expected left_of")
	}
	if relationOf(right, left) != relRightOf {
		t.Fatalf("expected right_of")
	}
}
