package audiostream

import (
	"sync"
	"testing"
	"time"
)

func unit(seq uint64) Unit {
	return Unit{Seq: seq, Format: RawFormat(1, 16, 44100), Data: []byte{byte(seq), 0}}
}

// TestBuffer_DropLaw verifies pushed + dropped == offered and FIFO order of
// the accepted units.
func TestBuffer_DropLaw(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		offered  int
	}{
		{"below capacity", 5, 3},
		{"exactly full", 4, 4},
		{"overflow", 3, 10},
		{"capacity raised to one", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.capacity)
			accepted := 0
			for i := 0; i < tt.offered; i++ {
				if b.Push(unit(uint64(i))) {
					accepted++
				}
			}

			if got := b.Pushed() + b.Dropped(); got != uint64(tt.offered) {
				t.Errorf("pushed+dropped = %d, want %d", got, tt.offered)
			}
			if b.Len() > b.Cap() {
				t.Errorf("Len %d exceeds Cap %d", b.Len(), b.Cap())
			}
			if int(b.Pushed()) != accepted {
				t.Errorf("Pushed = %d, want %d", b.Pushed(), accepted)
			}

			// newest units are the ones dropped; the oldest survive in order
			for i := 0; i < accepted; i++ {
				u, ok := b.Pop()
				if !ok {
					t.Fatalf("Pop %d: empty", i)
				}
				if u.Seq != uint64(i) {
					t.Errorf("Pop %d: seq %d", i, u.Seq)
				}
			}
			if _, ok := b.Pop(); ok {
				t.Errorf("expected empty buffer")
			}
		})
	}
}

func TestBuffer_CloseAndDrain(t *testing.T) {
	b := NewBuffer(4)
	b.Push(unit(1))
	b.Push(unit(2))
	b.Close()

	if b.Push(unit(3)) {
		t.Errorf("Push after Close accepted")
	}
	if b.Drained() {
		t.Errorf("Drained with pending units")
	}

	b.Pop()
	b.Pop()
	if !b.Drained() {
		t.Errorf("expected Drained after popping every unit")
	}
}

func TestBuffer_Wraparound(t *testing.T) {
	b := NewBuffer(3)
	var next uint64
	for round := 0; round < 10; round++ {
		b.Push(unit(next))
		b.Push(unit(next + 1))
		for i := uint64(0); i < 2; i++ {
			u, ok := b.Pop()
			if !ok || u.Seq != next+i {
				t.Fatalf("round %d: got seq %d ok=%v, want %d", round, u.Seq, ok, next+i)
			}
		}
		next += 2
	}
	if b.Dropped() != 0 {
		t.Errorf("Dropped = %d, want 0", b.Dropped())
	}
}

// TestBuffer_ConcurrentConsumer runs a producer against a consumer waiting
// on Ready. Run with -race.
func TestBuffer_ConcurrentConsumer(t *testing.T) {
	const total = 1000
	b := NewBuffer(16)

	var (
		wg       sync.WaitGroup
		received []uint64
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			for {
				u, ok := b.Pop()
				if !ok {
					break
				}
				received = append(received, u.Seq)
			}
			if b.Drained() {
				return
			}
			select {
			case <-b.Ready():
			case <-time.After(2 * time.Second):
				t.Error("consumer timed out waiting for Ready")
				return
			}
		}
	}()

	for i := 0; i < total; i++ {
		b.Push(unit(uint64(i)))
	}
	b.Close()
	wg.Wait()

	if uint64(len(received)) != b.Pushed() {
		t.Errorf("received %d units, buffer accepted %d", len(received), b.Pushed())
	}
	for i := 1; i < len(received); i++ {
		if received[i] <= received[i-1] {
			t.Fatalf("order violated at %d: %d after %d", i, received[i], received[i-1])
		}
	}
}

// TestBufferConfig_LeaksIncoming checks that the runtime queue drops the
// same unit Buffer.Push rejects: the incoming one.
func TestBufferConfig_LeaksIncoming(t *testing.T) {
	const leakUpstream = 1

	props := BufferConfig{Capacity: 8, Leaky: true}.Properties()
	if props["leaky"] != leakUpstream {
		t.Errorf("leaky = %v, want %d (drop incoming)", props["leaky"], leakUpstream)
	}
	if props["max-size-buffers"] != uint(8) {
		t.Errorf("max-size-buffers = %v, want 8", props["max-size-buffers"])
	}

	b := NewBuffer(1)
	b.Push(unit(1))
	if b.Push(unit(2)) {
		t.Fatalf("push past capacity accepted")
	}
	if u, _ := b.Pop(); u.Seq != 1 {
		t.Errorf("kept seq %d, want the older unit 1", u.Seq)
	}
}
