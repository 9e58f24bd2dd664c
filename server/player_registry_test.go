package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JeroenDeDauw/server/server/gpgnet"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type testSession struct {
	sync.Mutex
	id      uuid.UUID
	userID  int64
	login   string
	ip      string
	sent    []gpgnet.Outbound
	sendErr error
	closed  string
}

var _ Session = &testSession{}

func newTestSession(userID int64, login, ip string) *testSession {
	return &testSession{
		id:     uuid.Must(uuid.NewV4()),
		userID: userID,
		login:  login,
		ip:     ip,
	}
}

func (s *testSession) Logger() *zap.Logger      { return zap.NewNop() }
func (s *testSession) ID() uuid.UUID            { return s.id }
func (s *testSession) UserID() int64            { return s.userID }
func (s *testSession) Login() string            { return s.login }
func (s *testSession) ClientIP() string         { return s.ip }
func (s *testSession) ClientPort() string       { return "50000" }
func (s *testSession) Context() context.Context { return context.Background() }
func (s *testSession) Consume()                 {}

func (s *testSession) Send(msgs ...gpgnet.Outbound) error {
	s.Lock()
	defer s.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, msgs...)
	return nil
}

func (s *testSession) SendBytes([]byte) error { return nil }

func (s *testSession) Close(msg string) {
	s.Lock()
	defer s.Unlock()
	s.closed = msg
}

func (s *testSession) Sent() []gpgnet.Outbound {
	s.Lock()
	defer s.Unlock()
	return append([]gpgnet.Outbound(nil), s.sent...)
}

func (s *testSession) Closed() string {
	s.Lock()
	defer s.Unlock()
	return s.closed
}

func newTestPlayerRegistry() *PlayerRegistry {
	return NewPlayerRegistry(zap.NewNop(), NewScopedMetrics(zap.NewNop(), tally.NoopScope))
}

func TestPlayerRegistryAddRemove(t *testing.T) {
	r := newTestPlayerRegistry()
	session := newTestSession(1, "alice", "10.0.0.1")
	r.Add(session, testPlayer(1, "alice"))

	assert.Equal(t, 1, r.Count())
	p, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "alice", p.Login())
	s, ok := r.SessionByID(session.ID())
	require.True(t, ok)
	assert.Same(t, session, s)

	r.Remove(session)
	r.Remove(session)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get(1)
	assert.False(t, ok)
	_, ok = r.OnlinePlayer(1)
	assert.False(t, ok)
}

func TestPlayerRegistryReplacesOlderSession(t *testing.T) {
	r := newTestPlayerRegistry()
	first := newTestSession(1, "alice", "10.0.0.1")
	second := newTestSession(1, "alice", "10.0.0.2")

	r.Add(first, testPlayer(1, "alice"))
	r.Add(second, testPlayer(1, "alice"))

	require.Eventually(t, func() bool { return first.Closed() != "" }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "connected from another location", first.Closed())
	assert.Empty(t, second.Closed())

	// The old session going away leaves the new one in place.
	r.Remove(first)
	s, ok := r.Session(1)
	require.True(t, ok)
	assert.Same(t, second, s)
	assert.Equal(t, 1, r.Count())
}

func TestPlayerRegistryNotify(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewPlayerRegistry(zap.New(core), NewScopedMetrics(zap.NewNop(), tally.NoopScope))
	session := newTestSession(1, "alice", "10.0.0.1")
	r.Add(session, testPlayer(1, "alice"))

	r.Notify(1, "first", "second")
	r.Notify(2, "offline")
	r.Notify(1)

	assert.Equal(t, []gpgnet.Outbound{gpgnet.NewScoresNotice("first"), gpgnet.NewScoresNotice("second")}, session.Sent())
	dropped := logs.FilterMessage("Player offline, notice dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, int64(2), dropped[0].ContextMap()["player_id"])

	session.sendErr = errors.New("closed")
	r.Notify(1, "dropped")
	assert.Len(t, session.Sent(), 2)
}

func TestPlayerRegistryStopClosesSessions(t *testing.T) {
	r := newTestPlayerRegistry()
	alice, bob := newTestSession(1, "alice", "10.0.0.1"), newTestSession(2, "bob", "10.0.0.2")
	r.Add(alice, testPlayer(1, "alice"))
	r.Add(bob, testPlayer(2, "bob"))

	r.Stop()
	assert.Equal(t, "server shutdown", alice.Closed())
	assert.Equal(t, "server shutdown", bob.Closed())
}
