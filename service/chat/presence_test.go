package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type announcement struct {
	userID string
	state  string
	rooms  []string
}

// presenceSink captures announcements and pending grace timers so tests can
// fire or skip them deterministically.
type presenceSink struct {
	mu     sync.Mutex
	events []announcement
	timers []func()
}

func (p *presenceSink) announce(userID, state string, rooms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, announcement{userID: userID, state: state, rooms: rooms})
}

func (p *presenceSink) afterFunc(_ time.Duration, f func()) *time.Timer {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers = append(p.timers, f)
	t := time.NewTimer(time.Hour)
	t.Stop()
	return t
}

// fireAll runs every captured grace callback, as if the window elapsed.
func (p *presenceSink) fireAll() {
	p.mu.Lock()
	timers := p.timers
	p.timers = nil
	p.mu.Unlock()
	for _, f := range timers {
		f()
	}
}

func (p *presenceSink) announced() []announcement {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]announcement, len(p.events))
	copy(out, p.events)
	return out
}

func newTrackerWithSink(t *testing.T) (*PresenceTracker, *presenceSink) {
	t.Helper()
	sink := &presenceSink{}
	tracker := NewPresenceTracker(time.Second, sink.announce)
	tracker.afterFunc = sink.afterFunc
	t.Cleanup(tracker.Close)
	return tracker, sink
}

func TestFirstConnectionAnnouncesOnline(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Connected("u1")
	tracker.Connected("u1") // second device, no second announcement

	got := sink.announced()
	require.Len(t, got, 1)
	assert.Equal(t, announcement{userID: "u1", state: PresenceOnline}, got[0])
	assert.True(t, tracker.Online("u1"))
}

func TestOfflineFiresAfterGraceWindow(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Connected("u1")
	tracker.Disconnected("u1", []string{"r1", "r2"})

	assert.True(t, tracker.Online("u1"), "still online during the grace window")
	require.Len(t, sink.announced(), 1, "nothing announced before the window runs out")

	sink.fireAll()

	got := sink.announced()
	require.Len(t, got, 2)
	assert.Equal(t, PresenceOffline, got[1].state)
	assert.Equal(t, []string{"r1", "r2"}, got[1].rooms, "offline goes to the rooms held at disconnect")
	assert.False(t, tracker.Online("u1"))
}

func TestReconnectInsideGraceIsSilent(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Connected("u1")
	tracker.Disconnected("u1", []string{"r1"})
	tracker.Connected("u1")

	sink.fireAll() // the stale timer callback must be a no-op

	got := sink.announced()
	require.Len(t, got, 1, "observers never see the flap")
	assert.Equal(t, PresenceOnline, got[0].state)
	assert.True(t, tracker.Online("u1"))
}

func TestMultiDeviceOfflineWaitsForLastConnection(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Connected("u1")
	tracker.Connected("u1")
	tracker.Disconnected("u1", []string{"r1"})

	sink.fireAll()
	require.Len(t, sink.announced(), 1, "one device left, still online")

	tracker.Disconnected("u1", []string{"r1"})
	sink.fireAll()

	got := sink.announced()
	require.Len(t, got, 2)
	assert.Equal(t, PresenceOffline, got[1].state)
}

func TestDisconnectWithoutConnectIsIgnored(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Disconnected("ghost", nil)
	sink.fireAll()

	assert.Empty(t, sink.announced())
	assert.False(t, tracker.Online("ghost"))
}

func TestCloseSuppressesPendingAnnouncements(t *testing.T) {
	tracker, sink := newTrackerWithSink(t)

	tracker.Connected("u1")
	tracker.Disconnected("u1", []string{"r1"})
	tracker.Close()

	sink.fireAll()

	require.Len(t, sink.announced(), 1)
	assert.Equal(t, PresenceOnline, sink.announced()[0].state)
}
