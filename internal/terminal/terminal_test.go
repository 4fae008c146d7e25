package terminal

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardoborges/nautilus/internal/errors"
	"github.com/ricardoborges/nautilus/pkg/remote"
	remotetest "github.com/ricardoborges/nautilus/pkg/remote/testing"
)

type event struct {
	Channel string
	Payload interface{}
}

// capturePub records published events and lets tests wait on them.
type capturePub struct {
	events chan event
}

func newCapturePub() *capturePub {
	return &capturePub{events: make(chan event, 256)}
}

func (p *capturePub) Publish(channel string, payload interface{}) {
	p.events <- event{Channel: channel, Payload: payload}
}

func (p *capturePub) next(t *testing.T) event {
	t.Helper()
	select {
	case ev := <-p.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return event{}
	}
}

func (p *capturePub) expectNone(t *testing.T) {
	t.Helper()
	select {
	case ev := <-p.events:
		t.Fatalf("unexpected event on %s: %v", ev.Channel, ev.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func dialTo(conn *remotetest.MockConn) DialFunc {
	return func(connectionID string) (remote.Conn, error) {
		return conn, nil
	}
}

func TestCreatePublishesShellOutput(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))

	shells := conn.Shells()
	require.Len(t, shells, 1)
	cols, rows := shells[0].Geometry()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)

	shells[0].Feed([]byte("login banner\r\n"))

	ev := pub.next(t)
	assert.Equal(t, "terminal:data", ev.Channel)
	data := ev.Payload.(DataEvent)
	assert.Equal(t, "term-1", data.SessionID)
	assert.Equal(t, "login banner\r\n", data.Data)
}

func TestCreateDuplicateID(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))

	err := m.Create("term-1", "conn-1", 80, 24)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrDuplicateSession))
	assert.Len(t, conn.Shells(), 1, "duplicate create must not open a second shell")
}

func TestConcurrentCreateSameIDOpensExactlyOneShell(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()

	// Slow dial widens the race window.
	dial := func(connectionID string) (remote.Conn, error) {
		time.Sleep(20 * time.Millisecond)
		return conn, nil
	}
	m := NewManager(dial, pub, zerolog.Nop())

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Create("term-1", "conn-1", 80, 24)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, duplicates int
	for err := range results {
		if err == nil {
			succeeded++
		} else if errors.IsCode(err, errors.ErrDuplicateSession) {
			duplicates++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, racers-1, duplicates)
	assert.Len(t, conn.Shells(), 1)
}

func TestCreateDialFailureReleasesReservation(t *testing.T) {
	pub := newCapturePub()
	failing := func(connectionID string) (remote.Conn, error) {
		return nil, errors.New(errors.ErrSSH, "host unreachable")
	}
	m := NewManager(failing, pub, zerolog.Nop())

	require.Error(t, m.Create("term-1", "conn-1", 80, 24))

	// The ID is reusable after the failed open.
	conn := remotetest.NewMockConn("web-01")
	m.dial = dialTo(conn)
	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))
}

func TestWriteAndResizeAbsentSessionAreNoOps(t *testing.T) {
	pub := newCapturePub()
	m := NewManager(dialTo(remotetest.NewMockConn("web-01")), pub, zerolog.Nop())

	assert.NoError(t, m.Write("ghost", []byte("ls\n")))
	assert.NoError(t, m.Resize("ghost", 100, 40))
	pub.expectNone(t)
}

func TestWriteReachesShell(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))
	require.NoError(t, m.Write("term-1", []byte("uptime\n")))

	assert.Equal(t, "uptime\n", string(conn.Shells()[0].Written()))
}

func TestStopPublishesClosedOnceAndIsIdempotent(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))
	require.NoError(t, m.Stop("term-1"))

	ev := pub.next(t)
	assert.Equal(t, "terminal:closed", ev.Channel)
	assert.Equal(t, "term-1", ev.Payload.(ClosedEvent).SessionID)
	assert.True(t, conn.Closed(), "stopping the session must close its channel")

	// Second stop is a no-op with no second event.
	require.NoError(t, m.Stop("term-1"))
	pub.expectNone(t)
	assert.Empty(t, m.List())
}

func TestRemoteDeathPublishesClosed(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))
	conn.Shells()[0].Close() // remote shell exits

	ev := pub.next(t)
	assert.Equal(t, "terminal:closed", ev.Channel)
	assert.Equal(t, "term-1", ev.Payload.(ClosedEvent).SessionID)
	pub.expectNone(t)

	// Session is gone; writes are no-ops again.
	assert.NoError(t, m.Write("term-1", []byte("x")))
	assert.Empty(t, m.List())
}

func TestStopAllClosesEverything(t *testing.T) {
	pub := newCapturePub()
	var conns []*remotetest.MockConn
	var mu sync.Mutex
	dial := func(connectionID string) (remote.Conn, error) {
		c := remotetest.NewMockConn(connectionID)
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}
	m := NewManager(dial, pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))
	require.NoError(t, m.Create("term-2", "conn-2", 80, 24))

	m.StopAll()

	assert.Empty(t, m.List())
	closed := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := pub.next(t)
		require.Equal(t, "terminal:closed", ev.Channel)
		closed[ev.Payload.(ClosedEvent).SessionID] = true
	}
	assert.True(t, closed["term-1"] && closed["term-2"])
	for _, c := range conns {
		assert.True(t, c.Closed())
	}
}

func TestLargeOutputArrivesIntact(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	pub := newCapturePub()
	m := NewManager(dialTo(conn), pub, zerolog.Nop())

	require.NoError(t, m.Create("term-1", "conn-1", 80, 24))

	payload := strings.Repeat("0123456789abcdef", 1024) // 16 KiB
	go conn.Shells()[0].Feed([]byte(payload))

	var got strings.Builder
	for got.Len() < len(payload) {
		ev := pub.next(t)
		require.Equal(t, "terminal:data", ev.Channel)
		got.WriteString(ev.Payload.(DataEvent).Data)
	}
	assert.Equal(t, payload, got.String())
}
