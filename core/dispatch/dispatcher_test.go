package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/consumer"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/cursor"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/entry"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/wire"
)

// fakeCursor is a minimal cursor.Cursor whose ReadEntries always
// reports no backlog, so tests can drive OnEntriesRead directly
// without racing the background doorbell loop. Replay is wired to a
// table of positions registered via seedReplayable, mirroring a real
// managed cursor's log lookup.
type fakeCursor struct {
	mu          sync.Mutex
	readPos     position.Position
	markDelete  position.Position
	since       int64
	active      bool
	rewindCalls int
	replayable  map[position.Position]*entry.Entry
}

func newFakeCursor() *fakeCursor {
	return &fakeCursor{replayable: make(map[position.Position]*entry.Entry)}
}

func (c *fakeCursor) ReadEntries(max int, cb cursor.ReadCallback) {
	go cb(nil, entry.Normal, cursor.ErrNoMoreEntries)
}

func (c *fakeCursor) Replay(positions []position.Position, cb cursor.ReadCallback) {
	c.mu.Lock()
	batch := make([]*entry.Entry, 0, len(positions))
	for _, p := range positions {
		if e, ok := c.replayable[p]; ok {
			batch = append(batch, e)
		}
	}
	c.mu.Unlock()
	go cb(batch, entry.Replay, nil)
}

func (c *fakeCursor) seedReplayable(e *entry.Entry) {
	c.mu.Lock()
	c.replayable[e.Position()] = e
	c.mu.Unlock()
}

func (c *fakeCursor) Rewind() {
	c.mu.Lock()
	c.rewindCalls++
	c.readPos = c.markDelete.Next()
	c.mu.Unlock()
}

func (c *fakeCursor) ReadPosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readPos
}

func (c *fakeCursor) MarkDeletePosition() position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.markDelete
}

func (c *fakeCursor) NumberOfEntriesSinceFirstNotAckedMessage() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.since
}

func (c *fakeCursor) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// fakeSelector routes sticky keys by exact, test-configured mapping
// rather than consistent hashing, so scenarios can pin exactly which
// consumer a key goes to.
type fakeSelector struct {
	mu         sync.Mutex
	routes     map[string]*consumer.Consumer
	registered map[*consumer.Consumer]bool
}

func newFakeSelector() *fakeSelector {
	return &fakeSelector{routes: make(map[string]*consumer.Consumer), registered: make(map[*consumer.Consumer]bool)}
}

func (s *fakeSelector) route(key string, c *consumer.Consumer) {
	s.mu.Lock()
	s.routes[key] = c
	s.mu.Unlock()
}

func (s *fakeSelector) Select(key []byte) (*consumer.Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.routes[string(key)]
	if !ok || !s.registered[c] {
		return nil, false
	}
	return c, true
}

func (s *fakeSelector) AddConsumer(c *consumer.Consumer) {
	s.mu.Lock()
	s.registered[c] = true
	s.mu.Unlock()
}

func (s *fakeSelector) RemoveConsumer(c *consumer.Consumer) {
	s.mu.Lock()
	delete(s.registered, c)
	s.mu.Unlock()
}

type sendCall struct {
	entries  []*entry.Entry
	readType entry.ReadType
}

// fakeTransport records every Send call and completes it
// asynchronously on its own goroutine, matching the contract that
// Send must never block or complete synchronously under the
// dispatcher lock.
type fakeTransport struct {
	mu    sync.Mutex
	calls []sendCall
	done  chan struct{}
	err   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{}, 16)}
}

func (f *fakeTransport) Send(entries []*entry.Entry, rt entry.ReadType, done func(err error)) {
	go func() {
		f.mu.Lock()
		f.calls = append(f.calls, sendCall{entries: entries, readType: rt})
		err := f.err
		f.mu.Unlock()
		done(err)
		f.done <- struct{}{}
	}()
}

func (f *fakeTransport) waitN(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for send completion %d/%d", i+1, n)
		}
	}
}

func (f *fakeTransport) positions() []position.Position {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []position.Position
	for _, c := range f.calls {
		for _, e := range c.entries {
			out = append(out, e.Position())
		}
	}
	return out
}

func posEqual(a, b position.Position) bool { return a.Equal(b) }

func mkEntry(id int64, key string) *entry.Entry {
	return entry.New(
		position.Position{LedgerID: 1, EntryID: id},
		&wire.Envelope{PartitionKey: []byte(key), Topic: "t"},
		[]byte("payload"),
		nil,
	)
}

func mkEntries(pairs ...struct {
	ID  int64
	Key string
}) []*entry.Entry {
	out := make([]*entry.Entry, len(pairs))
	for i, p := range pairs {
		out[i] = mkEntry(p.ID, p.Key)
	}
	return out
}

func pair(id int64, key string) struct {
	ID  int64
	Key string
} {
	return struct {
		ID  int64
		Key string
	}{id, key}
}

// S1: single-consumer passthrough.
func TestS1SingleConsumerPassthrough(t *testing.T) {
	cur := newFakeCursor()
	sel := newFakeSelector()
	a := consumer.New("A", 10)
	sel.route("x", a)
	sel.route("y", a)

	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	tr := newFakeTransport()
	d.AddConsumer(a, tr)

	batch := mkEntries(pair(1, "x"), pair(2, "y"), pair(3, "x"))
	d.OnEntriesRead(batch, entry.Normal)
	tr.waitN(t, 1)

	got := tr.positions()
	want := []position.Position{{LedgerID: 1, EntryID: 1}, {LedgerID: 1, EntryID: 2}, {LedgerID: 1, EntryID: 3}}
	if diff := cmp.Diff(want, got, cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}
	if d.redeliver.Len() != 0 {
		t.Fatalf("redeliver set should be empty, has %d entries", d.redeliver.Len())
	}
}

// S2: key affinity across two consumers.
func TestS2KeyAffinity(t *testing.T) {
	cur := newFakeCursor()
	sel := newFakeSelector()
	a := consumer.New("A", 10)
	b := consumer.New("B", 10)
	sel.route("x", a)
	sel.route("y", b)

	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	trA, trB := newFakeTransport(), newFakeTransport()
	d.AddConsumer(a, trA)
	d.AddConsumer(b, trB)

	batch := mkEntries(pair(1, "x"), pair(2, "y"), pair(3, "x"), pair(4, "y"))
	d.OnEntriesRead(batch, entry.Normal)
	trA.waitN(t, 1)
	trB.waitN(t, 1)

	wantA := []position.Position{{LedgerID: 1, EntryID: 1}, {LedgerID: 1, EntryID: 3}}
	wantB := []position.Position{{LedgerID: 1, EntryID: 2}, {LedgerID: 1, EntryID: 4}}
	if diff := cmp.Diff(wantA, trA.positions(), cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("A positions mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantB, trB.positions(), cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("B positions mismatch (-want +got):\n%s", diff)
	}
}

// S3: permit cap forces overflow into the redelivery set.
func TestS3PermitCap(t *testing.T) {
	cur := newFakeCursor()
	sel := newFakeSelector()
	a := consumer.New("A", 2)
	sel.route("x", a)

	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	tr := newFakeTransport()
	d.AddConsumer(a, tr)

	batch := mkEntries(pair(1, "x"), pair(2, "x"), pair(3, "x"))
	d.OnEntriesRead(batch, entry.Normal)
	tr.waitN(t, 1)

	want := []position.Position{{LedgerID: 1, EntryID: 1}, {LedgerID: 1, EntryID: 2}}
	if diff := cmp.Diff(want, tr.positions(), cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("positions mismatch (-want +got):\n%s", diff)
	}
	if !d.redeliver.Contains(position.Position{LedgerID: 1, EntryID: 3}) {
		t.Fatal("expected position 3 in the redelivery set")
	}
	if d.redeliver.Len() != 1 {
		t.Fatalf("redeliver set len = %d, want 1", d.redeliver.Len())
	}
}

// S4: a newly joined consumer is gated behind a join barrier until
// mark-delete catches up, then receives the replayed backlog in order.
func TestS4JoinBarrier(t *testing.T) {
	cur := newFakeCursor()
	cur.markDelete = position.Position{LedgerID: 1, EntryID: 0}
	sel := newFakeSelector()

	a := consumer.New("A", 10)
	sel.route("x", a)
	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	trA := newFakeTransport()
	d.AddConsumer(a, trA) // wasEmpty: no barrier set for A

	// B joins mid-stream with unacked backlog outstanding.
	cur.since = 2
	cur.readPos = position.Position{LedgerID: 1, EntryID: 3}
	b := consumer.New("B", 10)
	trB := newFakeTransport()
	d.AddConsumer(b, trB)
	sel.route("x", b) // selector now routes x to B

	if barrier, ok := d.joinedAt.Get(b); !ok || !barrier.Equal(position.Position{LedgerID: 1, EntryID: 3}) {
		t.Fatalf("expected B's join barrier to be (1,3), got %v ok=%v", barrier, ok)
	}

	batch := mkEntries(pair(3, "x"), pair(4, "x"))
	d.OnEntriesRead(batch, entry.Normal)

	if len(trB.positions()) != 0 {
		t.Fatalf("B should receive nothing this cycle, got %v", trB.positions())
	}
	for _, id := range []int64{3, 4} {
		if !d.redeliver.Contains(position.Position{LedgerID: 1, EntryID: id}) {
			t.Fatalf("expected position %d in the redelivery set", id)
		}
	}

	// A acks (1) and (2); mark-delete advances to 2, so the barrier (1,3)
	// is <= markDelete.Next() and the gate opens.
	cur.mu.Lock()
	cur.markDelete = position.Position{LedgerID: 1, EntryID: 2}
	cur.mu.Unlock()
	d.OnAcknowledgementProcessed()

	replay := d.GetMessagesToReplayNow(10)
	want := []position.Position{{LedgerID: 1, EntryID: 3}, {LedgerID: 1, EntryID: 4}}
	if diff := cmp.Diff(want, replay, cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("replay set mismatch (-want +got):\n%s", diff)
	}

	for _, e := range batch {
		cur.seedReplayable(e)
	}
	d.AsyncReplayEntries(replay)
	trB.waitN(t, 1)

	if diff := cmp.Diff(want, trB.positions(), cmp.Comparer(posEqual)); diff != "" {
		t.Fatalf("B's replayed positions mismatch (-want +got):\n%s", diff)
	}
	if d.redeliver.Len() != 0 {
		t.Fatalf("redeliver set should be drained after replay, has %d", d.redeliver.Len())
	}
	if _, gated := d.joinedAt.Get(b); gated {
		t.Fatal("B should no longer be gated after the barrier clears")
	}
}

// S5: an entire batch undeliverable to permit-zero consumers latches
// the stuck-on-replays flag, which auto-clears after one empty reply.
func TestS5StuckReplayLiveness(t *testing.T) {
	cur := newFakeCursor()
	sel := newFakeSelector()
	a := consumer.New("A", 0)
	b := consumer.New("B", 0)
	sel.route("x", a)
	sel.route("y", b)

	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	d.AddConsumer(a, newFakeTransport())
	d.AddConsumer(b, newFakeTransport())

	d.OnEntriesRead(mkEntries(pair(1, "x"), pair(2, "y")), entry.Normal)

	d.mu.Lock()
	stuck := d.stuckOnReplay
	d.mu.Unlock()
	if !stuck {
		t.Fatal("expected stuckOnReplay to be latched")
	}

	if replay := d.GetMessagesToReplayNow(10); replay != nil {
		t.Fatalf("first GetMessagesToReplayNow after latching should be empty, got %v", replay)
	}
	d.mu.Lock()
	stuck = d.stuckOnReplay
	d.mu.Unlock()
	if stuck {
		t.Fatal("stuckOnReplay should auto-clear after one empty reply")
	}

	replay := d.GetMessagesToReplayNow(10)
	if len(replay) != 2 {
		t.Fatalf("expected the queued positions on the next call, got %v", replay)
	}
}

// S6: with no consumers registered, entries are released and the
// cursor rewound rather than queued for redelivery.
func TestS6NoConsumers(t *testing.T) {
	cur := newFakeCursor()
	cur.markDelete = position.Position{LedgerID: 1, EntryID: 5}
	sel := newFakeSelector()
	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()

	released := false
	e := entry.New(position.Position{LedgerID: 1, EntryID: 1}, &wire.Envelope{PartitionKey: []byte("x")}, []byte("p"),
		func(*entry.Entry) { released = true })

	d.OnEntriesRead([]*entry.Entry{e}, entry.Normal)

	if !released {
		t.Fatal("expected the entry to be released")
	}
	if cur.rewindCalls != 1 {
		t.Fatalf("rewindCalls = %d, want 1", cur.rewindCalls)
	}
	if d.redeliver.Len() != 0 {
		t.Fatal("redelivery set should stay empty when there are no consumers")
	}
}

// Invariant 6: permit accounting. Granted permits decrease by exactly
// the number of messages successfully handed to Send.
func TestPermitAccountingDecreasesByMessagesSent(t *testing.T) {
	cur := newFakeCursor()
	sel := newFakeSelector()
	a := consumer.New("A", 5)
	sel.route("x", a)

	d := New(cur, sel, nil, Config{ReadBatchSize: 10})
	defer d.Close()
	tr := newFakeTransport()
	d.AddConsumer(a, tr)

	before := a.AvailablePermits()
	d.OnEntriesRead(mkEntries(pair(1, "x"), pair(2, "x"), pair(3, "x")), entry.Normal)
	tr.waitN(t, 1)

	after := a.AvailablePermits()
	if before-after != 3 {
		t.Fatalf("permits decreased by %d, want 3", before-after)
	}
}
