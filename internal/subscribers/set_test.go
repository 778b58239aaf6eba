package subscribers

import "testing"

func TestSetPreservesOrderAndDetaches(t *testing.T) {
	var set Set[func() int]
	set.Add(func() int { return 1 })
	detach := set.Add(func() int { return 2 })
	set.Add(func() int { return 3 })

	got := collect(set.Snapshot())
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected order %v", got)
	}

	detach()
	detach()
	got = collect(set.Snapshot())
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected callbacks after detach %v", got)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", set.Len())
	}
}

func TestSnapshotIsDetachedFromSet(t *testing.T) {
	var set Set[func() int]
	detach := set.Add(func() int { return 1 })
	snapshot := set.Snapshot()
	detach()
	set.Add(func() int { return 2 })
	if len(snapshot) != 1 || snapshot[0]() != 1 {
		t.Fatalf("snapshot changed after mutation")
	}
}

func TestClear(t *testing.T) {
	var set Set[func() int]
	set.Add(func() int { return 1 })
	set.Clear()
	if set.Len() != 0 {
		t.Fatalf("expected empty set after clear")
	}
}

func collect(fns []func() int) []int {
	out := make([]int, len(fns))
	for i, fn := range fns {
		out[i] = fn()
	}
	return out
}
