package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavelink/connect/internal/domain"
)

const testRetryDelay = 50 * time.Millisecond

// testRelay accepts websocket upgrades and hands every accepted
// connection to the test through Conns.
type testRelay struct {
	srv   *httptest.Server
	dials atomic.Int32
	Conns chan *websocket.Conn
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	tr := &testRelay{Conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	tr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		tr.dials.Add(1)
		tr.Conns <- conn
	}))
	t.Cleanup(tr.srv.Close)
	return tr
}

func (tr *testRelay) URL() string {
	return "ws" + strings.TrimPrefix(tr.srv.URL, "http")
}

func (tr *testRelay) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-tr.Conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

type channelProbe struct {
	mu       sync.Mutex
	states   []State
	messages []domain.ChatMessage
	frames   [][]byte
}

func (p *channelProbe) attach(c *Channel) {
	c.OnState(func(s State) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.states = append(p.states, s)
	})
	c.OnMessage(func(m domain.ChatMessage) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.messages = append(p.messages, m)
	})
	c.OnFrame(func(data []byte) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.frames = append(p.frames, append([]byte(nil), data...))
	})
}

func (p *channelProbe) sawState(s State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, got := range p.states {
		if got == s {
			return true
		}
	}
	return false
}

func (p *channelProbe) messageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *channelProbe) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func newTestChannel(tr *testRelay) (*Channel, *channelProbe) {
	c := New(Config{
		Endpoint:   tr.URL(),
		Room:       "R1",
		UserName:   "Alice",
		RetryDelay: testRetryDelay,
	})
	probe := &channelProbe{}
	probe.attach(c)
	return c, probe
}

func TestChannelConnectAndReceive(t *testing.T) {
	tr := newTestRelay(t)
	c, probe := newTestChannel(tr)
	defer c.Close()

	c.Connect()
	conn := tr.accept(t)

	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)
	require.True(t, probe.sawState(StateOpen))
	probe.mu.Lock()
	first := probe.states[0]
	probe.mu.Unlock()
	assert.Equal(t, StateConnecting, first, "observers see the initial Connecting transition")

	msg := domain.NewChatMessage("hello", "Bob", "R1")
	require.NoError(t, conn.WriteJSON(msg))

	require.Eventually(t, func() bool { return probe.messageCount() == 1 }, time.Second, 10*time.Millisecond)
	probe.mu.Lock()
	got := probe.messages[0]
	probe.mu.Unlock()
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "Bob", got.Sender)
	assert.Equal(t, domain.RoomID("R1"), got.RoomID)
}

func TestChannelMalformedFrameDropped(t *testing.T) {
	tr := newTestRelay(t)
	c, probe := newTestChannel(tr)
	defer c.Close()

	c.Connect()
	conn := tr.accept(t)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{not valid json`)))
	require.NoError(t, conn.WriteJSON(domain.NewChatMessage("after", "Bob", "R1")))

	// The valid frame still arrives and the channel never left Open.
	require.Eventually(t, func() bool { return probe.messageCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateOpen, c.State())
	assert.False(t, probe.sawState(StateReconnecting))
}

func TestChannelRoutesUnknownTypesToFrameHook(t *testing.T) {
	tr := newTestRelay(t)
	c, probe := newTestChannel(tr)
	defer c.Close()

	c.Connect()
	conn := tr.accept(t)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"offer","sdp":"v=0"}`)))

	require.Eventually(t, func() bool { return probe.frameCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Zero(t, probe.messageCount())
}

func TestChannelReconnectsAfterUnexpectedClose(t *testing.T) {
	tr := newTestRelay(t)
	c, probe := newTestChannel(tr)
	defer c.Close()

	c.Connect()
	first := tr.accept(t)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)

	require.NoError(t, first.Close())

	require.Eventually(t, func() bool { return probe.sawState(StateReconnecting) }, time.Second, 10*time.Millisecond)

	// The channel dials a brand new connection and recovers.
	second := tr.accept(t)
	require.NotNil(t, second)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, tr.dials.Load(), int32(2))
}

func TestChannelReconnectingEmittedOncePerOutage(t *testing.T) {
	tr := newTestRelay(t)
	endpoint := tr.URL()
	tr.srv.Close()

	c := New(Config{Endpoint: endpoint, Room: "R1", UserName: "Alice", RetryDelay: testRetryDelay})
	probe := &channelProbe{}
	probe.attach(c)
	defer c.Close()

	c.Connect()
	require.Eventually(t, func() bool { return probe.sawState(StateReconnecting) }, time.Second, 10*time.Millisecond)

	// Several more dials fail against the dead endpoint. The outage is
	// reported once, in order, not once per attempt.
	time.Sleep(4 * testRetryDelay)
	probe.mu.Lock()
	states := append([]State(nil), probe.states...)
	probe.mu.Unlock()
	assert.Equal(t, []State{StateConnecting, StateReconnecting}, states)
}

func TestChannelCloseCancelsReconnect(t *testing.T) {
	tr := newTestRelay(t)
	c, _ := newTestChannel(tr)

	c.Connect()
	conn := tr.accept(t)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)

	c.Close()
	require.Equal(t, StateClosed, c.State())
	_ = conn.Close()

	dialsAfterClose := tr.dials.Load()
	time.Sleep(4 * testRetryDelay)
	assert.Equal(t, dialsAfterClose, tr.dials.Load(), "no reconnect after teardown")
}

func TestChannelSendWhileNotOpenIsDropped(t *testing.T) {
	tr := newTestRelay(t)
	c, _ := newTestChannel(tr)
	defer c.Close()

	// Never connected: Send must not panic and must not queue.
	c.Send(domain.NewChatMessage("lost", "Alice", "R1"))

	c.Connect()
	conn := tr.accept(t)
	require.Eventually(t, func() bool { return c.State() == StateOpen }, time.Second, 10*time.Millisecond)

	// Nothing was queued while closed, so the first frame the relay sees
	// is the one sent after Open.
	c.Send(domain.NewChatMessage("first", "Alice", "R1"))
	var got domain.ChatMessage
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "first", got.Text)
}
