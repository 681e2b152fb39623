package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeuralLift/browser-ai-integrations/pkg/page"
	"github.com/NeuralLift/browser-ai-integrations/pkg/protocol"
)

func testConfig() Config {
	return Config{
		SnapshotTimeout:   200 * time.Millisecond,
		ActionTimeout:     100 * time.Millisecond,
		IdempotentRetries: 2,
	}
}

// countTag counts decoded frames carrying the given envelope tag. Safe to
// poll from assert.Eventually.
func (c *fakeConn) countTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, frame := range c.frames {
		if msg, err := protocol.Decode(frame); err == nil && msg.Tag() == tag {
			n++
		}
	}
	return n
}

func waitForTag(t *testing.T, conn *fakeConn, tag string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return conn.countTag(tag) >= n
	}, time.Second, 2*time.Millisecond)
}

type dispatchOutcome struct {
	result Result
	err    error
}

func dispatchAsync(sess *Session, cmd protocol.Command) chan dispatchOutcome {
	done := make(chan dispatchOutcome, 1)
	go func() {
		result, err := sess.Dispatch(context.Background(), cmd)
		done <- dispatchOutcome{result, err}
	}()
	return done
}

func seedSnapshot(t *testing.T, sess *Session, conn *fakeConn, tree []page.Candidate) page.Snapshot {
	t.Helper()
	before := conn.countTag(protocol.TagSnapshotRequest)

	type snapOutcome struct {
		snap page.Snapshot
		err  error
	}
	done := make(chan snapOutcome, 1)
	go func() {
		snap, err := sess.RequestSnapshot(context.Background(), 0)
		done <- snapOutcome{snap, err}
	}()
	waitForTag(t, conn, protocol.TagSnapshotRequest, before+1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.Snapshot{
		URL:   "https://example.com",
		Title: "Example",
		Tree:  tree,
	}))

	out := <-done
	require.NoError(t, out.err)
	return out.snap
}

func interactiveButton(name string) page.Candidate {
	return page.Candidate{
		Tag:     "button",
		Name:    name,
		Bounds:  page.Bounds{Width: 100, Height: 30},
		Visible: true,
	}
}

func TestDispatchCorrelatesResult(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.NavigateTo{URL: "https://example.com"})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.Equal(t, StateAwaitingAction, sess.State())

	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: true,
		Data:    []byte(`{"loaded":true}`),
	}))

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"loaded":true}`, string(out.result.Data))
	assert.Equal(t, StateReady, sess.State())
}

func TestDispatchBusyWhileInFlight(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.NavigateTo{URL: "https://example.com"})
	waitForTag(t, conn, protocol.TagActionRequest, 1)

	_, err := sess.Dispatch(context.Background(), protocol.ScrollTo{X: 0, Y: 10})
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = sess.RequestSnapshot(context.Background(), 0)
	assert.ErrorIs(t, err, ErrSessionBusy)

	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{Success: true}))
	require.NoError(t, (<-done).err)
}

func TestDispatchRefNotFoundBeforeWire(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	_, err := sess.Dispatch(context.Background(), protocol.ClickElement{Ref: 1})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRefNotFound, kind)

	// Nothing reached the wire and the session stays usable.
	assert.Zero(t, conn.countTag(protocol.TagActionRequest))
	assert.Equal(t, StateReady, sess.State())
}

func TestDispatchResolvesAssignedRef(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())
	snap := seedSnapshot(t, sess, conn, []page.Candidate{interactiveButton("Save")})
	require.Len(t, snap.Tree, 1)

	done := dispatchAsync(sess, protocol.ClickElement{Ref: snap.Tree[0].ID})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{Success: true}))
	require.NoError(t, (<-done).err)
}

func TestDispatchStaleRefAfterNewSnapshot(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())
	snap := seedSnapshot(t, sess, conn, []page.Candidate{
		interactiveButton("One"),
		interactiveButton("Two"),
	})
	require.Len(t, snap.Tree, 2)

	// The rebuilt page only has one interactive element, so ref 2 is stale.
	snap = seedSnapshot(t, sess, conn, []page.Candidate{interactiveButton("One")})
	require.Len(t, snap.Tree, 1)

	_, err := sess.Dispatch(context.Background(), protocol.ClickElement{Ref: 2})
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindRefNotFound, kind)
}

func TestDispatchTimeoutNonIdempotent(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	start := time.Now()
	_, err := sess.Dispatch(context.Background(), protocol.NavigateTo{URL: "https://example.com"})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindActionTimeout, kind)

	// One attempt only: navigation is not safely repeatable.
	assert.Equal(t, 1, conn.countTag(protocol.TagActionRequest))
	assert.GreaterOrEqual(t, time.Since(start), testConfig().ActionTimeout)
	assert.Equal(t, StateReady, sess.State())
}

func TestDispatchTimeoutRetriesIdempotent(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	_, err := sess.Dispatch(context.Background(), protocol.ScrollTo{X: 0, Y: 400})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindActionTimeout, kind)

	// Initial attempt plus the configured retry budget.
	assert.Equal(t, 3, conn.countTag(protocol.TagActionRequest))
}

func TestDispatchRetriesTransientExecutorFailure(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.GetPageContent{MaxLength: 500})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: false,
		Error:   "page still loading",
	}))

	waitForTag(t, conn, protocol.TagActionRequest, 2)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: true,
		Data:    []byte(`{"text":"hello"}`),
	}))

	out := <-done
	require.NoError(t, out.err)
	assert.JSONEq(t, `{"text":"hello"}`, string(out.result.Data))
}

func TestDispatchNoRetryForNonIdempotentFailure(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.NavigateTo{URL: "https://example.com"})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: false,
		Error:   "timeout while loading",
	}))

	out := <-done
	require.Error(t, out.err)
	kind, ok := KindOf(out.err)
	require.True(t, ok)
	assert.Equal(t, KindExecutorFailure, kind)
	assert.Equal(t, 1, conn.countTag(protocol.TagActionRequest))
}

func TestExecutorErrorSurfacedVerbatim(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.NavigateTo{URL: "https://example.com"})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: false,
		Error:   "net::ERR_NAME_NOT_RESOLVED",
	}))

	out := <-done
	require.Error(t, out.err)
	var failure *Failure
	require.ErrorAs(t, out.err, &failure)
	assert.Equal(t, KindExecutorFailure, failure.Kind)
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", failure.Message)

	// An executor failure is an outcome, not a protocol violation.
	assert.Equal(t, StateReady, sess.State())
}

func TestNotInteractableClassified(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())
	snap := seedSnapshot(t, sess, conn, []page.Candidate{interactiveButton("Save")})

	done := dispatchAsync(sess, protocol.ClickElement{Ref: snap.Tree[0].ID})
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: false,
		Error:   "element not interactable: obscured by overlay",
	}))

	out := <-done
	kind, ok := KindOf(out.err)
	require.True(t, ok)
	assert.Equal(t, KindElementNotInteractable, kind)
}

func TestBlockedURLNeverReachesWire(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	for _, url := range []string{"chrome://settings", "about:config", "file:///etc/passwd"} {
		_, err := sess.Dispatch(context.Background(), protocol.NavigateTo{URL: url})
		assert.ErrorIs(t, err, ErrBlockedURL, url)
	}
	assert.Zero(t, conn.countTag(protocol.TagActionRequest))
	assert.Equal(t, StateReady, sess.State())
}

func TestLateResultAfterTimeoutIsViolation(t *testing.T) {
	sess, _ := newReadySession(t, testConfig())

	_, err := sess.Dispatch(context.Background(), protocol.NavigateTo{URL: "https://example.com"})
	require.Error(t, err)

	// The slot is free again; a straggling result is uncorrelatable.
	err = sess.HandleMessage(context.Background(), protocol.ActionResult{Success: true})
	require.Error(t, err)
	assert.Equal(t, StateErrored, sess.State())
}

func TestRequestSnapshotBuildsFilteredTree(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	snap := seedSnapshot(t, sess, conn, []page.Candidate{
		interactiveButton("Save"),
		{Tag: "div", Visible: true, Bounds: page.Bounds{Width: 10, Height: 10}},
		{Tag: "button", Name: "Helper", Visible: true, AgentUI: true, Bounds: page.Bounds{Width: 10, Height: 10}},
	})

	require.Len(t, snap.Tree, 1)
	assert.Equal(t, 1, snap.Tree[0].ID)
	assert.Equal(t, "Save", snap.Tree[0].Name)
	assert.Equal(t, "https://example.com", snap.URL)
	assert.Equal(t, StateReady, sess.State())

	info := sess.Info()
	assert.Equal(t, 1, info.Refs)
}

func TestSnapshotTimeout(t *testing.T) {
	sess, _ := newReadySession(t, testConfig())

	_, err := sess.RequestSnapshot(context.Background(), 0)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindActionTimeout, kind)
	assert.Equal(t, StateReady, sess.State())
}

func TestCancelRequiresInFlightAction(t *testing.T) {
	sess, _ := newReadySession(t, testConfig())
	assert.ErrorIs(t, sess.Cancel(context.Background()), ErrNoActionInFlight)
}

func TestCancelSendsControlMessage(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	done := dispatchAsync(sess, protocol.NavigateTo{URL: "https://example.com"})
	waitForTag(t, conn, protocol.TagActionRequest, 1)

	require.NoError(t, sess.Cancel(context.Background()))
	assert.Equal(t, 1, conn.countTag(protocol.TagCancelAction))

	// The executor still answers with exactly one result.
	require.Equal(t, StateAwaitingAction, sess.State())
	require.NoError(t, sess.HandleMessage(context.Background(), protocol.ActionResult{
		Success: false,
		Error:   "action aborted",
	}))
	out := <-done
	require.Error(t, out.err)
	assert.Equal(t, StateReady, sess.State())
}

func TestDispatchContextCancellation(t *testing.T) {
	sess, conn := newReadySession(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := sess.Dispatch(ctx, protocol.NavigateTo{URL: "https://example.com"})
		done <- err
	}()
	waitForTag(t, conn, protocol.TagActionRequest, 1)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateReady, sess.State())
}
