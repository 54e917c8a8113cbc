package source

import (
	"errors"
	"testing"

	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/cursor"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/core/position"
	"github.com/pepper-iot/pulsar-keyshared-dispatcher/pkg/config"
)

type fakeLog struct {
	next position.Position
}

func (f *fakeLog) Append(stickyKey, payload []byte) position.Position {
	p := f.next
	f.next.EntryID++
	return p
}

type fakeSink struct {
	acked []position.Position
	modes []cursor.AckMode
}

func (f *fakeSink) Ack(pos position.Position, mode cursor.AckMode) {
	f.acked = append(f.acked, pos)
	f.modes = append(f.modes, mode)
}

func TestDeliverUsesCumulativeAckUnderEffectivelyOnce(t *testing.T) {
	l := &fakeLog{next: position.Position{LedgerID: 1, EntryID: 0}}
	s := &fakeSink{}
	c, err := New(config.EffectivelyOnce, "", l, s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	r := c.Deliver("", "fallback-topic", []byte("key"), []byte("payload"))
	r.Ack()

	if len(s.acked) != 1 || s.modes[0] != cursor.AckCumulative {
		t.Fatalf("expected one cumulative ack, got %+v %+v", s.acked, s.modes)
	}
	if r.Topic != "fallback-topic" {
		t.Fatalf("Topic = %q, want fallback-topic", r.Topic)
	}
}

func TestDeliverUsesIndividualAckUnderAtLeastOnce(t *testing.T) {
	l := &fakeLog{}
	s := &fakeSink{}
	c, _ := New(config.AtLeastOnce, "", l, s, nil)

	r := c.Deliver("explicit-topic", "fallback", nil, []byte("p"))
	r.Ack()

	if r.Topic != "explicit-topic" {
		t.Fatalf("Topic = %q, want explicit-topic", r.Topic)
	}
	if s.modes[0] != cursor.AckIndividual {
		t.Fatal("expected individual ack under AtLeastOnce")
	}
}

func TestFailIsFatalUnderEffectivelyOnce(t *testing.T) {
	l := &fakeLog{}
	s := &fakeSink{}
	var gotTopic string
	var gotErr error
	c, _ := New(config.EffectivelyOnce, "", l, s, func(topic string, pos position.Position, err error) {
		gotTopic = topic
		gotErr = err
	})

	r := c.Deliver("t", "fallback", nil, []byte("p"))
	wantErr := errors.New("boom")
	r.Fail(wantErr)

	if gotTopic != "t" || gotErr != wantErr {
		t.Fatalf("fatal handler not invoked with expected args: %q %v", gotTopic, gotErr)
	}
}

func TestFailIsNoOpUnderAtLeastOnce(t *testing.T) {
	l := &fakeLog{}
	s := &fakeSink{}
	called := false
	c, _ := New(config.AtLeastOnce, "", l, s, func(string, position.Position, error) { called = true })

	r := c.Deliver("t", "fallback", nil, []byte("p"))
	r.Fail(errors.New("boom"))

	if called {
		t.Fatal("fatal handler must not be invoked under AtLeastOnce")
	}
}

func TestTopicsTracksDeliveredTopics(t *testing.T) {
	l := &fakeLog{}
	s := &fakeSink{}
	c, _ := New(config.AtLeastOnce, "", l, s, nil)

	c.Deliver("a", "fallback", nil, []byte("p"))
	c.Deliver("b", "fallback", nil, []byte("p"))
	c.Deliver("a", "fallback", nil, []byte("p"))

	topics := c.Topics()
	if len(topics) != 2 {
		t.Fatalf("Topics() = %v, want 2 distinct topics", topics)
	}
}

func TestMatchesPattern(t *testing.T) {
	l := &fakeLog{}
	s := &fakeSink{}
	c, err := New(config.AtLeastOnce, `^orders-\d+$`, l, s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !c.Matches("orders-1") {
		t.Fatal("expected orders-1 to match pattern")
	}
	if c.Matches("shipments-1") {
		t.Fatal("expected shipments-1 not to match pattern")
	}
}

func TestExpandTopicName(t *testing.T) {
	if got := ExpandTopicName("persistent://public/default/orders"); got != "orders" {
		t.Fatalf("ExpandTopicName = %q, want orders", got)
	}
	if got := ExpandTopicName("orders"); got != "orders" {
		t.Fatalf("ExpandTopicName = %q, want orders", got)
	}
}
