package resilience

import (
	"slices"
	"testing"

	"github.com/wordtetris/pronounce/pkg/provider/speech/mock"
)

func cands(names ...string) []*Candidate {
	out := make([]*Candidate, len(names))
	for i, n := range names {
		out[i] = &Candidate{Backend: &mock.Backend{BackendName: n}}
	}
	return out
}

func TestRotation_MoveToBack(t *testing.T) {
	tests := []struct {
		name string
		at   int
		want []string
	}{
		{"first", 0, []string{"b", "c", "a"}},
		{"middle", 1, []string{"a", "c", "b"}},
		{"last", 2, []string{"a", "b", "c"}},
		{"out of range", 5, []string{"a", "b", "c"}},
		{"negative", -1, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRotation(cands("a", "b", "c"))
			r.MoveToBack(tt.at)
			if got := r.Names(); !slices.Equal(got, tt.want) {
				t.Errorf("Names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRotation_Remove(t *testing.T) {
	r := newRotation(cands("a", "b", "c"))

	removed := r.Remove(1)
	if removed == nil || removed.Name() != "b" {
		t.Fatalf("Remove(1) = %v, want b", removed)
	}
	if got := r.Names(); !slices.Equal(got, []string{"a", "c"}) {
		t.Errorf("Names = %v, want [a c]", got)
	}
	if r.Remove(7) != nil {
		t.Error("Remove out of range should return nil")
	}
	r.Remove(0)
	r.Remove(0)
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRotation_NoAliasing(t *testing.T) {
	src := cands("a", "b")
	r := newRotation(src)
	r.MoveToBack(0)

	// The slice passed in is not reordered.
	if src[0].Name() != "a" {
		t.Errorf("source slice mutated: %s", src[0].Name())
	}

	removed := r.Remove(0)
	names := r.Names()
	r.MoveToBack(0)
	if removed.Name() != "b" || !slices.Equal(names, []string{"a"}) {
		t.Errorf("removed=%s names=%v", removed.Name(), names)
	}
}

func TestRotation_AtAndIndexOf(t *testing.T) {
	r := newRotation(cands("a", "b"))
	if c := r.At(1); c == nil || c.Name() != "b" {
		t.Errorf("At(1) = %v, want b", c)
	}
	if r.At(2) != nil || r.At(-1) != nil {
		t.Error("At out of range should return nil")
	}
	if i := r.IndexOf("b"); i != 1 {
		t.Errorf("IndexOf(b) = %d, want 1", i)
	}
	if i := r.IndexOf("zzz"); i != -1 {
		t.Errorf("IndexOf(zzz) = %d, want -1", i)
	}
	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d", r.Len())
	}
}
