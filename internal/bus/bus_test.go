package bus

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu       sync.Mutex
	received []Message
	sendErr  error
	closed   bool
}

func (f *fakeConn) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.received = append(f.received, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.received))
	copy(out, f.received)
	return out
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	m := NewManager(50)
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, m.Register("s1", a))
	require.NoError(t, m.Register("s1", b))

	m.Broadcast("s1", Message{Type: "signal", Payload: map[string]any{"symbol": "BTCUSDT"}})

	require.Len(t, a.messages(), 1)
	require.Len(t, b.messages(), 1)
	assert.Equal(t, "s1", a.messages()[0].SessionID)
	assert.NotEmpty(t, a.messages()[0].ID)
	assert.False(t, a.messages()[0].Timestamp.IsZero())
}

func TestLateJoinerGetsHistoryReplay(t *testing.T) {
	m := NewManager(50)
	early := &fakeConn{}
	require.NoError(t, m.Register("s1", early))

	for i := 0; i < 3; i++ {
		m.Broadcast("s1", Message{Type: fmt.Sprintf("m%d", i)})
	}

	late := &fakeConn{}
	require.NoError(t, m.Register("s1", late))

	got := late.messages()
	require.Len(t, got, 3)
	assert.Equal(t, "m0", got[0].Type, "replay is oldest first")
	assert.Equal(t, "m2", got[2].Type)
}

func TestHistoryIsBounded(t *testing.T) {
	m := NewManager(5)
	require.NoError(t, m.Register("s1", &fakeConn{}))

	for i := 0; i < 12; i++ {
		m.Broadcast("s1", Message{Type: fmt.Sprintf("m%d", i)})
	}

	history := m.History("s1")
	require.Len(t, history, 5)
	assert.Equal(t, "m7", history[0].Type)
	assert.Equal(t, "m11", history[4].Type)
}

func TestDeadConnectionIsDroppedAlone(t *testing.T) {
	m := NewManager(50)
	healthy := &fakeConn{}
	dead := &fakeConn{sendErr: errors.New("broken pipe")}
	require.NoError(t, m.Register("s1", healthy))
	require.NoError(t, m.Register("s1", dead))

	m.Broadcast("s1", Message{Type: "signal"})

	assert.Len(t, healthy.messages(), 1, "healthy member still served")
	assert.True(t, dead.closed)

	m.Broadcast("s1", Message{Type: "signal"})
	assert.Len(t, healthy.messages(), 2)
}

func TestSessionGarbageCollected(t *testing.T) {
	m := NewManager(50)
	a := &fakeConn{}
	require.NoError(t, m.Register("s1", a))
	require.Equal(t, 1, m.SessionCount())

	m.Unregister("s1", a)
	assert.Equal(t, 0, m.SessionCount())
	assert.True(t, a.closed)
	assert.Nil(t, m.History("s1"), "history went with the session")
}

func TestBroadcastToMemberlessSessionIsDropped(t *testing.T) {
	m := NewManager(50)
	m.Broadcast("s1", Message{Type: "early"})

	assert.Equal(t, 0, m.SessionCount(), "publish-only ids never accrete sessions")
	assert.Nil(t, m.History("s1"))

	joiner := &fakeConn{}
	require.NoError(t, m.Register("s1", joiner))
	assert.Empty(t, joiner.messages(), "nothing retained to replay")
}

func TestSessionsAreIsolated(t *testing.T) {
	m := NewManager(50)
	a, b := &fakeConn{}, &fakeConn{}
	require.NoError(t, m.Register("s1", a))
	require.NoError(t, m.Register("s2", b))

	m.Broadcast("s1", Message{Type: "signal"})

	assert.Len(t, a.messages(), 1)
	assert.Empty(t, b.messages())
}
