package hub

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erilali/chathub/internal/logger"
	"github.com/erilali/chathub/internal/message"
)

type stubVerifier map[string]string

func (s stubVerifier) Verify(token string) (string, error) {
	if subject, ok := s[token]; ok {
		return subject, nil
	}
	return "", fmt.Errorf("rejected")
}

func newTestHub(opts Options) (*Hub, *Registry) {
	reg := NewRegistry()
	return NewHub(reg, stubVerifier{}, nil, opts), reg
}

func register(t *testing.T, reg *Registry, buffer int, names ...string) []*Client {
	t.Helper()
	clients := make([]*Client, 0, len(names))
	for _, name := range names {
		c := NewClient(name, nil, buffer)
		if err := reg.Add(c); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
		clients = append(clients, c)
	}
	return clients
}

// drain returns the frames queued for c without blocking.
func drain(t *testing.T, c *Client) []message.Frame {
	t.Helper()
	var out []message.Frame
	for {
		select {
		case payload, ok := <-c.Send:
			if !ok {
				return out
			}
			frames, err := message.Decode(payload)
			if err != nil {
				t.Fatalf("Decode(%q): %v", payload, err)
			}
			out = append(out, frames...)
		default:
			return out
		}
	}
}

func TestSendMessage_ReachesEveryone(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			h, reg := newTestHub(Options{})
			names := make([]string, n)
			for i := range names {
				names[i] = fmt.Sprintf("user%d", i)
			}
			clients := register(t, reg, 8, names...)

			h.SendMessage(clients[0], "user0", "hi")

			for _, c := range clients {
				frames := drain(t, c)
				if len(frames) != 1 {
					t.Fatalf("%s got %d frames, want 1", c.Username, len(frames))
				}
				f := frames[0]
				if f.Target != message.TargetReceiveMessage || len(f.Arguments) != 2 ||
					f.Arguments[0] != "user0" || f.Arguments[1] != "hi" {
					t.Errorf("%s got %+v", c.Username, f)
				}
			}
		})
	}
}

func TestSendMessage_BodyStaysOutOfLogs(t *testing.T) {
	var buf bytes.Buffer
	reg := NewRegistry()
	h := NewHub(reg, stubVerifier{}, logger.New(&buf, "hub"), Options{})
	clients := register(t, reg, 4, "alice", "bob")

	h.SendMessage(clients[0], "alice", "meet at the usual place")

	if strings.Contains(buf.String(), "usual place") {
		t.Errorf("chat body leaked into logs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"level":"debug"`) || !strings.Contains(buf.String(), `"length":23`) {
		t.Errorf("expected a debug entry with the body length, got %s", buf.String())
	}
	if got := drain(t, clients[1]); len(got) != 1 || got[0].Arguments[1] != "meet at the usual place" {
		t.Errorf("bob got %+v", got)
	}
}

func TestTyping_ExcludesSender(t *testing.T) {
	for _, n := range []int{1, 2, 6} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			h, reg := newTestHub(Options{})
			names := make([]string, n)
			for i := range names {
				names[i] = fmt.Sprintf("user%d", i)
			}
			clients := register(t, reg, 8, names...)
			sender := clients[n-1]

			h.TypingNotification(sender, sender.Username)
			h.StopTypingNotification(sender, sender.Username)

			for _, c := range clients {
				frames := drain(t, c)
				if c == sender {
					if len(frames) != 0 {
						t.Errorf("sender received %d frames", len(frames))
					}
					continue
				}
				if len(frames) != 2 {
					t.Fatalf("%s got %d frames, want 2", c.Username, len(frames))
				}
				if frames[0].Target != message.TargetUserTyping || frames[1].Target != message.TargetUserStopTyping {
					t.Errorf("%s got targets %s, %s", c.Username, frames[0].Target, frames[1].Target)
				}
				if frames[0].Arguments[0] != sender.Username {
					t.Errorf("typing user = %q", frames[0].Arguments[0])
				}
			}
		})
	}
}

func TestScenario_JoinTypeLeave(t *testing.T) {
	h, reg := newTestHub(Options{})
	clients := register(t, reg, 8, "alice", "bob", "carol")
	a, b, c := clients[0], clients[1], clients[2]

	h.SendMessage(a, "alice", "hi")
	for _, cl := range clients {
		frames := drain(t, cl)
		if len(frames) != 1 || frames[0].Arguments[1] != "hi" {
			t.Fatalf("%s: %+v", cl.Username, frames)
		}
	}

	h.TypingNotification(b, "bob")
	if frames := drain(t, b); len(frames) != 0 {
		t.Errorf("bob saw his own typing: %+v", frames)
	}
	for _, cl := range []*Client{a, c} {
		frames := drain(t, cl)
		if len(frames) != 1 || frames[0].Target != message.TargetUserTyping || frames[0].Arguments[0] != "bob" {
			t.Errorf("%s: %+v", cl.Username, frames)
		}
	}

	h.disconnect(c)
	h.SendMessage(a, "alice", "bye")
	for _, cl := range []*Client{a, b} {
		frames := drain(t, cl)
		if len(frames) != 1 || frames[0].Arguments[1] != "bye" {
			t.Errorf("%s: %+v", cl.Username, frames)
		}
	}
	if frames := drain(t, c); len(frames) != 0 {
		t.Errorf("carol received after leaving: %+v", frames)
	}
}

func TestBroadcast_FailureIsIsolated(t *testing.T) {
	h, reg := newTestHub(Options{})
	clients := register(t, reg, 4, "alice", "bob")
	slow := NewClient("slow", nil, 1)
	slow.Send <- []byte("backlog")
	if err := reg.Add(slow); err != nil {
		t.Fatal(err)
	}

	h.SendMessage(clients[0], "alice", "hello")

	for _, c := range clients {
		if frames := drain(t, c); len(frames) != 1 {
			t.Errorf("%s got %d frames", c.Username, len(frames))
		}
	}
	if reg.Len() != 2 {
		t.Errorf("Len = %d, slow client should have been dropped", reg.Len())
	}

	h.SendMessage(clients[0], "alice", "again")
	for _, c := range clients {
		if frames := drain(t, c); len(frames) != 1 {
			t.Errorf("%s got %d frames after drop", c.Username, len(frames))
		}
	}
}

func TestBroadcast_PerSenderOrder(t *testing.T) {
	h, reg := newTestHub(Options{})
	clients := register(t, reg, 256, "alice", "bob")

	const count = 100
	for i := 0; i < count; i++ {
		h.SendMessage(clients[0], "alice", fmt.Sprint(i))
	}

	frames := drain(t, clients[1])
	if len(frames) != count {
		t.Fatalf("got %d frames, want %d", len(frames), count)
	}
	for i, f := range frames {
		if f.Arguments[1] != fmt.Sprint(i) {
			t.Fatalf("frame %d carries %q", i, f.Arguments[1])
		}
	}
}

func TestBroadcast_ConcurrentSendersAndChurn(t *testing.T) {
	h, reg := newTestHub(Options{})
	stable := register(t, reg, 1024, "alice", "bob", "carol")

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(sender *Client) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.SendMessage(sender, sender.Username, fmt.Sprint(j))
				h.TypingNotification(sender, sender.Username)
			}
		}(stable[i])
	}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("churn", nil, 1024)
			_ = reg.Add(c)
			h.disconnect(c)
			h.disconnect(c)
		}()
	}
	wg.Wait()

	for _, c := range stable {
		frames := drain(t, c)
		// 150 messages from all three + 100 typing events from the other two
		if len(frames) != 250 {
			t.Errorf("%s got %d frames, want 250", c.Username, len(frames))
		}
		last := map[string]int{}
		for _, f := range frames {
			if f.Target != message.TargetReceiveMessage {
				continue
			}
			var n int
			fmt.Sscan(f.Arguments[1], &n)
			if prev, ok := last[f.Arguments[0]]; ok && n != prev+1 {
				t.Fatalf("%s: %s sent %d after %d", c.Username, f.Arguments[0], n, prev)
			}
			last[f.Arguments[0]] = n
		}
	}
}

type fakeRelay struct {
	mu        sync.Mutex
	published []message.Envelope
	incoming  chan message.Envelope
	failSub   bool
}

func (f *fakeRelay) Name() string { return "fake" }

func (f *fakeRelay) Publish(_ context.Context, env message.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeRelay) Subscribe(context.Context) (<-chan message.Envelope, error) {
	if f.failSub {
		return nil, fmt.Errorf("no broker")
	}
	return f.incoming, nil
}

func (f *fakeRelay) Close() error { return nil }

func (f *fakeRelay) sent() []message.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message.Envelope(nil), f.published...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestRelay_PublishesAndDeliversRemote(t *testing.T) {
	relay := &fakeRelay{incoming: make(chan message.Envelope, 4)}
	h, reg := newTestHub(Options{Relay: relay})
	clients := register(t, reg, 8, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.TypingNotification(clients[0], "alice")
	sent := relay.sent()
	if len(sent) != 1 {
		t.Fatalf("published %d envelopes, want 1", len(sent))
	}
	if sent[0].Origin != h.instanceID || sent[0].Except != clients[0].ID {
		t.Errorf("unexpected envelope %+v", sent[0])
	}
	drain(t, clients[1])

	remote, _ := message.Encode(message.Invocation(message.TargetReceiveMessage, "dave", "from afar"))
	relay.incoming <- message.Envelope{Origin: h.instanceID, Frame: remote} // own echo, ignored
	relay.incoming <- message.Envelope{Origin: "other-node", Except: "remote-conn", Frame: remote}

	waitFor(t, func() bool { return len(clients[0].Send) == 1 && len(clients[1].Send) == 1 })
	for _, c := range clients {
		frames := drain(t, c)
		if len(frames) != 1 || frames[0].Arguments[0] != "dave" {
			t.Errorf("%s: %+v", c.Username, frames)
		}
	}

	cancel()
	<-done
	if reg.Len() != 0 {
		t.Errorf("Run left %d clients registered after shutdown", reg.Len())
	}
}

func TestRun_SubscribeFailureKeepsLocalDelivery(t *testing.T) {
	relay := &fakeRelay{failSub: true}
	h, reg := newTestHub(Options{Relay: relay})
	clients := register(t, reg, 8, "alice", "bob")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	h.SendMessage(clients[0], "alice", "still here")
	for _, c := range clients {
		if frames := drain(t, c); len(frames) != 1 {
			t.Errorf("%s got %d frames", c.Username, len(frames))
		}
	}
	if h.RelayName() != "fake" {
		t.Errorf("RelayName = %q", h.RelayName())
	}
	cancel()
	<-done
}

func TestHandleClientMessage(t *testing.T) {
	h, reg := newTestHub(Options{})
	clients := register(t, reg, 16, "alice", "bob")
	a, b := clients[0], clients[1]

	send := func(raw string) bool {
		t.Helper()
		return h.HandleClientMessage(a, []byte(raw))
	}

	if !send(`{"protocol":"json","version":1}` + "\x1e") {
		t.Fatal("handshake closed the connection")
	}
	if got := <-a.Send; string(got) != "{}\x1e" {
		t.Errorf("handshake reply = %q", got)
	}

	send(`{"type":6}` + "\x1e")
	if frames := drain(t, a); len(frames) != 0 {
		t.Errorf("ping produced %+v", frames)
	}

	send(`{"type":1,"target":"SendMessage","arguments":["alice","one"]}` + "\x1e" +
		`{"type":1,"target":"TypingNotification","arguments":["alice"]}` + "\x1e")
	if frames := drain(t, b); len(frames) != 2 || frames[0].Target != message.TargetReceiveMessage || frames[1].Target != message.TargetUserTyping {
		t.Errorf("bob got %+v", frames)
	}
	if frames := drain(t, a); len(frames) != 1 || frames[0].Target != message.TargetReceiveMessage {
		t.Errorf("alice got %+v", frames)
	}

	errorCases := []string{
		`{"type":1,"target":"SendMessage","arguments":["alice"]}`,
		`{"type":1,"target":"TypingNotification","arguments":[]}`,
		`{"type":1,"target":"StopTypingNotification","arguments":["a","b"]}`,
		`{"type":1,"target":"DeleteEverything","arguments":[]}`,
		`{"type":3}`,
		`garbage`,
	}
	for _, raw := range errorCases {
		if !send(raw) {
			t.Fatalf("%s closed the connection", raw)
		}
		frames := drain(t, a)
		if len(frames) != 1 || frames[0].Target != message.TargetError {
			t.Errorf("%s: want one Error frame, got %+v", raw, frames)
		}
		if other := drain(t, b); len(other) != 0 {
			t.Errorf("%s leaked to bob: %+v", raw, other)
		}
	}

	if send(`{"type":7}` + "\x1e") {
		t.Error("close frame did not end the connection")
	}
}
