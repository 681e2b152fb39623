package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeuralLift/browser-ai-integrations/pkg/protocol"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error
	closed   bool
}

func (c *fakeConn) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	frame := append([]byte(nil), data...)
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sent decodes every frame written so far.
func (c *fakeConn) sent(t *testing.T) []protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]protocol.Message, 0, len(c.frames))
	for _, frame := range c.frames {
		msg, err := protocol.Decode(frame)
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

// sentWithTag filters decoded frames by envelope tag.
func (c *fakeConn) sentWithTag(t *testing.T, tag string) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, msg := range c.sent(t) {
		if msg.Tag() == tag {
			out = append(out, msg)
		}
	}
	return out
}

func newReadySession(t *testing.T, cfg Config) (*Session, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	sess := New("sess-test", conn, cfg)
	require.NoError(t, sess.Handshake(context.Background()))
	require.Equal(t, StateReady, sess.State())
	return sess, conn
}

func TestHandshakeSendsSessionInit(t *testing.T) {
	conn := &fakeConn{}
	sess := New("sess-abc", conn, DefaultConfig())
	require.Equal(t, StateConnecting, sess.State())

	require.NoError(t, sess.Handshake(context.Background()))
	assert.Equal(t, StateReady, sess.State())

	msgs := conn.sent(t)
	require.Len(t, msgs, 1)
	init, ok := msgs[0].(protocol.SessionInit)
	require.True(t, ok)
	assert.Equal(t, "sess-abc", init.SessionID)
}

func TestHandshakeOnlyOnce(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())
	err := sess.Handshake(context.Background())
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestDispatchBeforeHandshake(t *testing.T) {
	sess := New("sess-early", &fakeConn{}, DefaultConfig())
	_, err := sess.Dispatch(context.Background(), protocol.NavigateTo{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestPingAnsweredWithPong(t *testing.T) {
	sess, conn := newReadySession(t, DefaultConfig())

	require.NoError(t, sess.HandleMessage(context.Background(), protocol.Ping{}))
	assert.Len(t, conn.sentWithTag(t, protocol.TagPong), 1)
	assert.Equal(t, StateReady, sess.State())
}

func TestPongIsIgnored(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.Pong{}))
	assert.Equal(t, StateReady, sess.State())
}

func TestSessionUpdateRecordsPage(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())

	update := protocol.SessionUpdate{URL: "https://example.com/cart", Title: "Cart"}
	require.NoError(t, sess.HandleMessage(context.Background(), update))

	info := sess.Info()
	assert.Equal(t, "https://example.com/cart", info.URL)
	assert.Equal(t, "Cart", info.Title)
	assert.Equal(t, StateReady, sess.State())
}

func TestUnexpectedActionResultErrorsSession(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())

	err := sess.HandleMessage(context.Background(), protocol.ActionResult{Success: true})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindProtocolError, kind)
	assert.Equal(t, StateErrored, sess.State())

	// Errored sessions refuse dispatch until reset.
	_, err = sess.Dispatch(context.Background(), protocol.NavigateTo{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrSessionErrored)
}

func TestUnexpectedSnapshotErrorsSession(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())

	err := sess.HandleMessage(context.Background(), protocol.Snapshot{})
	require.Error(t, err)
	assert.Equal(t, StateErrored, sess.State())
}

func TestDecodeErrorErrorsSession(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())

	err := sess.HandleDecodeError(&protocol.ProtocolError{Reason: "malformed envelope"})
	require.Error(t, err)
	assert.Equal(t, StateErrored, sess.State())
}

func TestResetRecoversErroredSession(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())
	_ = sess.HandleMessage(context.Background(), protocol.ActionResult{})
	require.Equal(t, StateErrored, sess.State())

	genBefore := sess.Generation()
	require.NoError(t, sess.Reset())
	assert.Equal(t, StateReady, sess.State())
	assert.Greater(t, sess.Generation(), genBefore)
}

func TestResetIdleSessionIsLegal(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())
	require.NoError(t, sess.Reset())
	assert.Equal(t, StateReady, sess.State())
}

func TestResetBeforeHandshakeRejected(t *testing.T) {
	sess := New("sess-early", &fakeConn{}, DefaultConfig())
	assert.ErrorIs(t, sess.Reset(), ErrSessionNotReady)
}

func TestCloseIsTerminal(t *testing.T) {
	sess, conn := newReadySession(t, DefaultConfig())

	require.NoError(t, sess.Close())
	assert.Equal(t, StateClosed, sess.State())
	assert.True(t, conn.isClosed())

	assert.ErrorIs(t, sess.HandleMessage(context.Background(), protocol.Ping{}), ErrSessionClosed)
	assert.ErrorIs(t, sess.Reset(), ErrSessionClosed)
	_, err := sess.Dispatch(context.Background(), protocol.NavigateTo{URL: "https://example.com"})
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Closing twice is a no-op.
	require.NoError(t, sess.Close())
}

func TestInfoReportsGenerationAndRefs(t *testing.T) {
	sess, _ := newReadySession(t, DefaultConfig())
	info := sess.Info()
	assert.Equal(t, "sess-test", info.ID)
	assert.Equal(t, "ready", info.State)
	assert.Zero(t, info.Refs)
}
