package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricardoborges/nautilus/pkg/remote"
	remotetest "github.com/ricardoborges/nautilus/pkg/remote/testing"
)

type event struct {
	Channel string
	Payload interface{}
}

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

// fixtureFor builds valid batch output with a moving jiffies counter so
// consecutive samples produce a CPU delta.
func fixtureFor(host string, busy uint64) []byte {
	return []byte(fmt.Sprintf(`===HOST===
%s
===OS===
PRETTY_NAME="Debian GNU/Linux 12 (bookworm)"
===KERNEL===
Linux 6.1.0
===ARCH===
x86_64
===UPTIME===
100.0 400.0
===CPU===
cpu  %d 0 0 100000 0 0 0 0 0 0
===LOAD===
0.10 0.20 0.30 1/100 999
===MEM===
MemTotal: 1000 kB
MemAvailable: 400 kB
===DISK===
/dev/sda1 2000 500 1500 25%% /
===NET===
  eth0: 1000 1 0 0 0 0 0 0 2000 1 0 0 0 0 0 0
`, host, busy))
}

func pollingConn(host string) *remotetest.MockConn {
	conn := remotetest.NewMockConn(host)
	var n uint64
	var mu sync.Mutex
	conn.ExecFunc = func(cmd string) ([]byte, []byte, int, error) {
		mu.Lock()
		n += 500
		busy := n
		mu.Unlock()
		return fixtureFor(host, busy), nil, 0, nil
	}
	return conn
}

func TestStartPublishesSamples(t *testing.T) {
	conn := pollingConn("web-01")
	pub := newCapturePub()
	p := NewPoller(func(string) (remote.Conn, error) { return conn, nil },
		pub, 10*time.Millisecond, nil, zerolog.Nop())

	require.NoError(t, p.Start("conn-a", 0))
	defer p.Stop()

	first := pub.next(t)
	require.Equal(t, "metrics:update", first.Channel)
	s := first.Payload.(Sample)
	assert.Equal(t, "conn-a", s.ConnectionID)
	assert.Equal(t, "ok", s.Status)
	assert.Equal(t, "web-01", s.Hostname)
	assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", s.OS)
	assert.Equal(t, "x86_64", s.Arch)
	assert.Zero(t, s.CPUPercent, "first sample has no jiffies baseline")

	second := pub.next(t).Payload.(Sample)
	assert.Greater(t, second.CPUPercent, 0.0, "second sample has a delta")
	assert.Equal(t, "conn-a", p.Target())
}

func TestFailedCycleDegradesButLoopContinues(t *testing.T) {
	conn := remotetest.NewMockConn("web-01")
	var calls int
	var mu sync.Mutex
	conn.ExecFunc = func(cmd string) ([]byte, []byte, int, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 2 {
			return nil, nil, -1, errors.New("connection reset")
		}
		return fixtureFor("web-01", uint64(n)*500), nil, 0, nil
	}

	pub := newCapturePub()
	p := NewPoller(func(string) (remote.Conn, error) { return conn, nil },
		pub, 10*time.Millisecond, nil, zerolog.Nop())
	require.NoError(t, p.Start("conn-a", 0))
	defer p.Stop()

	ok1 := pub.next(t).Payload.(Sample)
	assert.Equal(t, "ok", ok1.Status)

	degraded := pub.next(t).Payload.(Sample)
	assert.Equal(t, "error", degraded.Status)
	assert.Contains(t, degraded.Error, "connection reset")
	assert.Equal(t, "conn-a", degraded.ConnectionID)

	ok2 := pub.next(t).Payload.(Sample)
	assert.Equal(t, "ok", ok2.Status, "loop must survive a failed cycle")
}

func TestStartSwitchesTargetCleanly(t *testing.T) {
	connA := pollingConn("host-a")
	connB := pollingConn("host-b")
	pub := newCapturePub()

	dial := func(id string) (remote.Conn, error) {
		if id == "conn-a" {
			return connA, nil
		}
		return connB, nil
	}
	p := NewPoller(dial, pub, 10*time.Millisecond, nil, zerolog.Nop())

	require.NoError(t, p.Start("conn-a", 0))
	first := pub.next(t).Payload.(Sample)
	require.Equal(t, "conn-a", first.ConnectionID)

	require.NoError(t, p.Start("conn-b", 0))
	defer p.Stop()

	assert.True(t, connA.Closed(), "old channel must be closed before the new dial")
	assert.Equal(t, "conn-b", p.Target())

	// Remaining conn-a samples drain first, then the stop marker, then
	// only conn-b samples.
	sawStopped := false
	for i := 0; i < 32; i++ {
		ev := pub.next(t)
		if ev.Channel == "metrics:stopped" {
			assert.Equal(t, "conn-a", ev.Payload.(StoppedEvent).ConnectionID)
			sawStopped = true
			continue
		}
		s := ev.Payload.(Sample)
		if sawStopped {
			assert.Equal(t, "conn-b", s.ConnectionID,
				"no old-target samples after the stop marker")
			if s.ConnectionID == "conn-b" {
				return
			}
		}
	}
	t.Fatal("never saw a conn-b sample after the stop marker")
}

func TestStopIsIdempotent(t *testing.T) {
	conn := pollingConn("web-01")
	pub := newCapturePub()
	p := NewPoller(func(string) (remote.Conn, error) { return conn, nil },
		pub, 10*time.Millisecond, nil, zerolog.Nop())

	require.NoError(t, p.Start("conn-a", 0))
	pub.next(t) // at least one sample

	p.Stop()
	assert.True(t, conn.Closed())
	assert.Empty(t, p.Target())

	// Drain until the stop marker.
	for {
		ev := pub.next(t)
		if ev.Channel == "metrics:stopped" {
			break
		}
	}

	// Second stop publishes nothing.
	p.Stop()
	select {
	case ev := <-pub.events:
		t.Fatalf("unexpected event after idle stop: %s", ev.Channel)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartDialFailureLeavesPollerIdle(t *testing.T) {
	pub := newCapturePub()
	p := NewPoller(func(string) (remote.Conn, error) {
		return nil, errors.New("no route to host")
	}, pub, 10*time.Millisecond, nil, zerolog.Nop())

	err := p.Start("conn-a", 0)
	require.Error(t, err)
	assert.Empty(t, p.Target())
	p.Stop() // no panic, no event
}
