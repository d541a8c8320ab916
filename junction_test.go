package audiostream

import (
	"errors"
	"testing"
)

type recordingOutlet struct {
	seqs   []uint64
	accept func(seq uint64) bool
}

func (o *recordingOutlet) Push(u Unit) (bool, error) {
	if o.accept != nil && !o.accept(u.Seq) {
		return false, nil
	}
	o.seqs = append(o.seqs, u.Seq)
	return true, nil
}

func TestJunction_DeliversToEveryBranchInOrder(t *testing.T) {
	a, b := &recordingOutlet{}, &recordingOutlet{}
	j := NewJunction("tee", a, b)

	for i := uint64(0); i < 50; i++ {
		j.Publish(unit(i))
	}

	for name, o := range map[string]*recordingOutlet{"a": a, "b": b} {
		if len(o.seqs) != 50 {
			t.Fatalf("branch %s got %d units, want 50", name, len(o.seqs))
		}
		for i, seq := range o.seqs {
			if seq != uint64(i) {
				t.Fatalf("branch %s: position %d has seq %d", name, i, seq)
			}
		}
	}
	if j.Published() != 50 {
		t.Errorf("Published = %d, want 50", j.Published())
	}
}

// TestJunction_StalledBranchDoesNotAffectOthers checks the branch
// independence policy: drops on one branch never reach the other.
func TestJunction_StalledBranchDoesNotAffectOthers(t *testing.T) {
	fast := &recordingOutlet{}
	slow := NewBuffer(5) // never drained
	j := NewJunction("tee", fast, BufferOutlet(slow))

	for i := uint64(0); i < 20; i++ {
		j.Publish(unit(i))
	}

	if len(fast.seqs) != 20 {
		t.Errorf("fast branch got %d units, want 20", len(fast.seqs))
	}

	stats := j.Stats()
	want := []BranchStats{{Sent: 20, Dropped: 0}, {Sent: 5, Dropped: 15}}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("branch %d stats = %+v, want %+v", i, stats[i], want[i])
		}
	}

	// surviving units of the slow branch are a prefix of the source order
	for i := uint64(0); i < 5; i++ {
		u, ok := slow.Pop()
		if !ok || u.Seq != i {
			t.Errorf("slow branch position %d: seq %d ok=%v", i, u.Seq, ok)
		}
	}
}

func TestJunction_SubsequenceOrdering(t *testing.T) {
	// accept every third unit only
	picky := &recordingOutlet{accept: func(seq uint64) bool { return seq%3 == 0 }}
	j := NewJunction("tee", picky, OutletFunc(func(Unit) (bool, error) { return true, nil }))

	for i := uint64(0); i < 30; i++ {
		j.Publish(unit(i))
	}

	for i := 1; i < len(picky.seqs); i++ {
		if picky.seqs[i] <= picky.seqs[i-1] {
			t.Fatalf("order violated: %v", picky.seqs)
		}
	}
	if got := j.Stats()[0]; got.Sent != 10 || got.Dropped != 20 {
		t.Errorf("stats = %+v, want sent 10 dropped 20", got)
	}
}

// TestJunction_FailedBranchIsNotADrop checks that an outlet error detaches
// the branch without counting drops, while the other branch keeps flowing.
func TestJunction_FailedBranchIsNotADrop(t *testing.T) {
	calls := 0
	broken := OutletFunc(func(u Unit) (bool, error) {
		calls++
		if u.Seq >= 3 {
			return false, errors.New("send failed")
		}
		return true, nil
	})
	healthy := &recordingOutlet{}
	j := NewJunction("tee", broken, healthy)

	for i := uint64(0); i < 10; i++ {
		j.Publish(unit(i))
	}

	if calls != 4 {
		t.Errorf("failed outlet called %d times, want 4", calls)
	}
	stats := j.Stats()
	if want := (BranchStats{Sent: 3, Dropped: 0, Failed: true}); stats[0] != want {
		t.Errorf("failed branch stats = %+v, want %+v", stats[0], want)
	}
	if want := (BranchStats{Sent: 10}); stats[1] != want {
		t.Errorf("healthy branch stats = %+v, want %+v", stats[1], want)
	}
	if len(healthy.seqs) != 10 {
		t.Errorf("healthy branch got %d units, want 10", len(healthy.seqs))
	}
}
