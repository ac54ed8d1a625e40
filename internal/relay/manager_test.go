package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relay-backend/internal/conversation"
	"relay-backend/internal/models"
	"relay-backend/internal/services"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls [][]models.Turn
	reply func(turns []models.Turn) (string, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, turns []models.Turn) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, turns)
	g.mu.Unlock()
	return g.reply(turns)
}

func (g *fakeGenerator) Calls() [][]models.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([][]models.Turn, len(g.calls))
	copy(out, g.calls)
	return out
}

func echoGenerator() *fakeGenerator {
	return &fakeGenerator{reply: func(turns []models.Turn) (string, error) {
		return "echo: " + turns[len(turns)-1].Text(), nil
	}}
}

type fakeConn struct {
	id        uuid.UUID
	sessionID uuid.UUID

	mu     sync.Mutex
	events []models.WSMessage
	onEmit func(msg models.WSMessage)
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New(), sessionID: uuid.New()}
}

func (c *fakeConn) ID() uuid.UUID        { return c.id }
func (c *fakeConn) SessionID() uuid.UUID { return c.sessionID }

func (c *fakeConn) Emit(ctx context.Context, msg models.WSMessage) {
	if c.onEmit != nil {
		c.onEmit(msg)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, msg)
}

func (c *fakeConn) Events(eventType string) []models.WSMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.WSMessage
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestManager(scope conversation.Scope, gen Generator, timeout time.Duration) (*Manager, *conversation.Store) {
	store := conversation.NewStore(scope, 0)
	return NewManager(store, gen, timeout, zap.NewNop()), store
}

func sessionTurns(t *testing.T, m *Manager, id uuid.UUID) []models.Turn {
	t.Helper()
	turns, ok := m.History(id)
	require.True(t, ok)
	return turns
}

func TestOnPrompt_HelloOnFreshLog(t *testing.T) {
	gen := &fakeGenerator{reply: func([]models.Turn) (string, error) { return "Hi! How can I help?", nil }}
	m, _ := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	assert.Empty(t, sessionTurns(t, m, conn.SessionID()))

	require.NoError(t, m.OnPrompt(context.Background(), conn, "Hello"))

	assert.Equal(t, []models.Turn{
		models.UserTurn("Hello"),
		models.ModelTurn("Hi! How can I help?"),
	}, sessionTurns(t, m, conn.SessionID()))

	responses := conn.Events(models.EventAIResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, "Hi! How can I help?", responses[0].Payload)
}

func TestOnPrompt_ContextIsCarried(t *testing.T) {
	gen := echoGenerator()
	m, _ := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	require.NoError(t, m.OnPrompt(context.Background(), conn, "My name is Asha"))
	require.NoError(t, m.OnPrompt(context.Background(), conn, "What's my name?"))

	calls := gen.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, models.UserTurn("My name is Asha"), second[0])
	assert.Equal(t, models.RoleModel, second[1].Role)
	assert.Equal(t, models.UserTurn("What's my name?"), second[2])
}

func TestOnPrompt_SequentialPromptsAlternate(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	const n = 7
	for i := 0; i < n; i++ {
		require.NoError(t, m.OnPrompt(context.Background(), conn, fmt.Sprintf("prompt %d", i)))
	}

	turns := sessionTurns(t, m, conn.SessionID())
	require.Len(t, turns, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, models.UserTurn(fmt.Sprintf("prompt %d", i)), turns[2*i])
		assert.Equal(t, models.RoleModel, turns[2*i+1].Role)
	}
	assert.Len(t, conn.Events(models.EventAIResponse), n)
}

func TestOnPrompt_ModelAppendAddsExactlyOneTurn(t *testing.T) {
	var before int
	gen := &fakeGenerator{}
	m, store := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)
	gen.reply = func(turns []models.Turn) (string, error) {
		before = store.Log(conn.SessionID()).Len()
		return "ok", nil
	}

	require.NoError(t, m.OnPrompt(context.Background(), conn, "one"))
	require.NoError(t, m.OnPrompt(context.Background(), conn, "two"))

	turns := sessionTurns(t, m, conn.SessionID())
	assert.Equal(t, before+1, len(turns))
	assert.Equal(t, models.RoleModel, turns[len(turns)-1].Role)
}

func TestOnPrompt_ReplyIsRecordedBeforeEmit(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	var atEmit []models.Turn
	conn.onEmit = func(msg models.WSMessage) {
		if msg.Type == models.EventAIResponse {
			atEmit, _ = m.History(conn.SessionID())
		}
	}

	require.NoError(t, m.OnPrompt(context.Background(), conn, "Hello"))
	assert.Equal(t, []models.Turn{models.UserTurn("Hello"), models.ModelTurn("echo: Hello")}, atEmit)
}

func TestOnPrompt_SameTextTwiceIsTwoEntries(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	require.NoError(t, m.OnPrompt(context.Background(), conn, "again"))
	require.NoError(t, m.OnPrompt(context.Background(), conn, "again"))

	assert.Len(t, sessionTurns(t, m, conn.SessionID()), 4)
	assert.Len(t, conn.Events(models.EventAIResponse), 2)
}

func TestOnPrompt_EmptyStringAccepted(t *testing.T) {
	gen := echoGenerator()
	m, _ := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	require.NoError(t, m.OnPrompt(context.Background(), conn, ""))

	turns := sessionTurns(t, m, conn.SessionID())
	require.Len(t, turns, 2)
	assert.Equal(t, models.UserTurn(""), turns[0])
	require.Len(t, gen.Calls(), 1)
}

func TestOnPrompt_AdapterFailure(t *testing.T) {
	gen := &fakeGenerator{reply: func([]models.Turn) (string, error) {
		return "", errors.New("dial tcp: network is unreachable")
	}}
	m, _ := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	err := m.OnPrompt(context.Background(), conn, "Hello")
	var se *services.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, services.KindUnavailable, se.Kind)

	assert.Empty(t, conn.Events(models.EventAIResponse))
	errs := conn.Events(models.EventAIError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeAIUnavailable, errs[0].Payload.(models.ErrorPayload).Code)

	assert.Equal(t, []models.Turn{models.UserTurn("Hello")}, sessionTurns(t, m, conn.SessionID()))
}

func TestOnPrompt_TimeoutWithHungAdapter(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gen := &fakeGenerator{reply: func([]models.Turn) (string, error) {
		<-release
		return "too late", nil
	}}
	m, _ := newTestManager(conversation.ScopeSession, gen, 30*time.Millisecond)
	conn := newFakeConn()
	m.OnConnect(conn)

	start := time.Now()
	err := m.OnPrompt(context.Background(), conn, "Hello")
	assert.Less(t, time.Since(start), time.Second)

	var se *services.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, services.KindTimeout, se.Kind)

	errs := conn.Events(models.EventAIError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeAITimeout, errs[0].Payload.(models.ErrorPayload).Code)
	assert.Len(t, sessionTurns(t, m, conn.SessionID()), 1)
}

func TestOnPrompt_EmptyReplyMapsToCode(t *testing.T) {
	gen := &fakeGenerator{reply: func([]models.Turn) (string, error) {
		return "", &services.ServiceError{Kind: services.KindEmptyReply}
	}}
	m, _ := newTestManager(conversation.ScopeSession, gen, time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)

	require.Error(t, m.OnPrompt(context.Background(), conn, "Hello"))
	errs := conn.Events(models.EventAIError)
	require.Len(t, errs, 1)
	assert.Equal(t, models.CodeAIEmptyReply, errs[0].Payload.(models.ErrorPayload).Code)
}

func TestOnPrompt_ConcurrentSessionsAreIsolated(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	a, b := newFakeConn(), newFakeConn()
	m.OnConnect(a)
	m.OnConnect(b)

	var g errgroup.Group
	g.Go(func() error { return m.OnPrompt(context.Background(), a, "from a") })
	g.Go(func() error { return m.OnPrompt(context.Background(), b, "from b") })
	require.NoError(t, g.Wait())

	assert.Len(t, a.Events(models.EventAIResponse), 1)
	assert.Len(t, b.Events(models.EventAIResponse), 1)
	assert.Equal(t, []models.Turn{models.UserTurn("from a"), models.ModelTurn("echo: from a")}, sessionTurns(t, m, a.SessionID()))
	assert.Equal(t, []models.Turn{models.UserTurn("from b"), models.ModelTurn("echo: from b")}, sessionTurns(t, m, b.SessionID()))
}

func TestOnPrompt_GlobalScopeInterleaves(t *testing.T) {
	// Both calls are held until both user turns are in the shared log, which
	// reproduces the cross-connection race of a single global context.
	var arrived sync.WaitGroup
	arrived.Add(2)
	gen := &fakeGenerator{reply: func(turns []models.Turn) (string, error) {
		arrived.Done()
		arrived.Wait()
		return "echo: " + turns[len(turns)-1].Text(), nil
	}}
	m, store := newTestManager(conversation.ScopeGlobal, gen, time.Second)
	a, b := newFakeConn(), newFakeConn()
	m.OnConnect(a)
	m.OnConnect(b)

	var g errgroup.Group
	g.Go(func() error { return m.OnPrompt(context.Background(), a, "from a") })
	g.Go(func() error { return m.OnPrompt(context.Background(), b, "from b") })
	require.NoError(t, g.Wait())

	assert.Len(t, a.Events(models.EventAIResponse), 1)
	assert.Len(t, b.Events(models.EventAIResponse), 1)

	turns := store.Log(a.SessionID()).Snapshot()
	require.Len(t, turns, 4)
	users, replies := 0, 0
	for _, turn := range turns {
		if turn.Role == models.RoleUser {
			users++
		} else {
			replies++
		}
	}
	assert.Equal(t, 2, users)
	assert.Equal(t, 2, replies)

	for _, call := range gen.Calls() {
		assert.Equal(t, models.RoleUser, call[len(call)-1].Role)
	}
}

func TestOnDisconnect_KeepsLog(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	conn := newFakeConn()
	m.OnConnect(conn)
	require.NoError(t, m.OnPrompt(context.Background(), conn, "Hello"))

	m.OnDisconnect(conn)

	assert.Len(t, sessionTurns(t, m, conn.SessionID()), 2)
}

func TestHistory_UnknownSession(t *testing.T) {
	m, _ := newTestManager(conversation.ScopeSession, echoGenerator(), time.Second)
	_, ok := m.History(uuid.New())
	assert.False(t, ok)
}
