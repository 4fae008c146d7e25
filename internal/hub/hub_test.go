package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return New(zerolog.Nop())
}

func recv(t *testing.T, s *Subscriber) Event {
	t.Helper()
	select {
	case frame, ok := <-s.Frames():
		require.True(t, ok, "frame channel closed unexpectedly")
		var ev Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	h := newTestHub()
	// Must not panic or block.
	h.Publish("metrics:update", map[string]int{"cpu": 42})
	assert.Equal(t, 0, h.Count())
}

func TestFanOutToAllSubscribers(t *testing.T) {
	h := newTestHub()
	a := h.Subscribe()
	b := h.Subscribe()
	c := h.Subscribe()

	h.Publish("terminal:data", map[string]string{"sessionId": "s1", "data": "hello"})

	for _, s := range []*Subscriber{a, b, c} {
		ev := recv(t, s)
		assert.Equal(t, "terminal:data", ev.Channel)
		payload := ev.Payload.(map[string]interface{})
		assert.Equal(t, "s1", payload["sessionId"])
		assert.Equal(t, "hello", payload["data"])
	}
}

func TestNoReplayForLateSubscriber(t *testing.T) {
	h := newTestHub()
	h.Publish("terminal:data", "early")

	late := h.Subscribe()
	select {
	case frame := <-late.Frames():
		t.Fatalf("late subscriber received replayed frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStalledSubscriberIsDroppedOthersKeepReceiving(t *testing.T) {
	h := newTestHub()
	stalled := h.Subscribe()
	healthy := h.Subscribe()

	// Fill the stalled subscriber's backlog while keeping the healthy
	// one drained.
	for i := 0; i < subscriberBuffer; i++ {
		h.Publish("metrics:update", i)
		<-healthy.Frames()
	}
	h.Publish("metrics:update", "overflow")

	assert.Equal(t, 1, h.Count(), "stalled subscriber should be removed")

	ev := recv(t, healthy)
	assert.Equal(t, "overflow", ev.Payload)

	// Dropped subscriber's channel is closed.
	for range stalled.Frames() {
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe()

	h.Unsubscribe(s)
	h.Unsubscribe(s)
	h.Unsubscribe(nil)

	assert.Equal(t, 0, h.Count())
	_, ok := <-s.Frames()
	assert.False(t, ok, "frame channel should be closed after unsubscribe")
}

func TestCloseRejectsNewSubscribers(t *testing.T) {
	h := newTestHub()
	s := h.Subscribe()

	h.Close()

	_, ok := <-s.Frames()
	assert.False(t, ok)
	assert.Nil(t, h.Subscribe())
	h.Publish("terminal:data", "ignored") // no panic
	h.Close()                             // idempotent
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h := newTestHub()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Publish("metrics:update", i)
		}
	}()

	for i := 0; i < 20; i++ {
		s := h.Subscribe()
		h.Unsubscribe(s)
	}
	<-done
}
