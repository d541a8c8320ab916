package audiostream

import (
	"log/slog"
	"sync/atomic"
)

// Outlet receives units from a junction branch. Push must not block.
//
// It returns false when the branch is full and the unit was dropped, and an
// error when the branch itself failed.
type Outlet interface {
	Push(u Unit) (bool, error)
}

// OutletFunc adapts a function to Outlet.
type OutletFunc func(u Unit) (bool, error)

// Push calls f(u).
func (f OutletFunc) Push(u Unit) (bool, error) { return f(u) }

// BufferOutlet feeds b from a junction branch.
func BufferOutlet(b *Buffer) Outlet {
	return OutletFunc(func(u Unit) (bool, error) { return b.Push(u), nil })
}

// dropLogEvery limits drop warnings to one per N drops per branch
const dropLogEvery = 100

type branch struct {
	outlet  Outlet
	sent    uint64
	dropped uint64
	failed  atomic.Bool
}

// Junction duplicates every unit to all branches (tee).
//
// Policy: a branch that cannot take a unit loses that unit and a warning is
// logged; the other branches are never delayed. A branch whose outlet fails
// is not counted as dropping: it receives no further units and the failure
// is left to the outlet's owner. Units are delivered to each
// branch in Publish order, so per-branch ordering matches the source.
//
// Thread-safety: Publish must be called from one goroutine (the upstream
// processing cycle). Stats is safe from any goroutine.
type Junction struct {
	id        StageID
	branches  []*branch
	published uint64
}

// NewJunction creates a junction feeding outlets in order.
func NewJunction(id StageID, outlets ...Outlet) *Junction {
	j := &Junction{id: id}
	for _, o := range outlets {
		j.branches = append(j.branches, &branch{outlet: o})
	}
	return j
}

// Publish distributes u to every branch.
//
// The same Unit value (and Data slice) is handed to every branch; branches
// must treat Data as read-only.
func (j *Junction) Publish(u Unit) {
	atomic.AddUint64(&j.published, 1)

	for i, b := range j.branches {
		if b.failed.Load() {
			continue
		}
		ok, err := b.outlet.Push(u)
		if err != nil {
			b.failed.Store(true)
			slog.Debug("audio-stream: branch failed, detached from junction",
				"junction", j.id,
				"branch", i,
				"seq", u.Seq,
				"error", err,
			)
			continue
		}
		if ok {
			atomic.AddUint64(&b.sent, 1)
			continue
		}

		dropped := atomic.AddUint64(&b.dropped, 1)
		if dropped == 1 || dropped%dropLogEvery == 0 {
			slog.Warn("audio-stream: branch stalled, dropping unit",
				"junction", j.id,
				"branch", i,
				"seq", u.Seq,
				"dropped_total", dropped,
			)
		}
	}
}

// Published returns the number of units received by the junction.
func (j *Junction) Published() uint64 {
	return atomic.LoadUint64(&j.published)
}

// Stats returns delivery counters per branch, in outlet order.
func (j *Junction) Stats() []BranchStats {
	out := make([]BranchStats, len(j.branches))
	for i, b := range j.branches {
		out[i] = BranchStats{
			Sent:    atomic.LoadUint64(&b.sent),
			Dropped: atomic.LoadUint64(&b.dropped),
			Failed:  b.failed.Load(),
		}
	}
	return out
}
