package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vantagechat/engage/internal/gateway"
	"github.com/vantagechat/engage/internal/pagecontext"
	"github.com/vantagechat/engage/internal/session"
	"github.com/vantagechat/engage/pkg/logging"
)

// fakeClock drives timer choreography deterministically. Advance fires due
// callbacks synchronously, in deadline order, mirroring the cooperative
// single-threaded event loop the engine targets.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	fn       func()
	fired    bool
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timerHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and fires every due timer in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.fired || t.stopped || t.deadline.After(c.now) {
				continue
			}
			if due == nil || t.deadline.Before(due.deadline) {
				due = t
			}
		}
		if due != nil {
			due.fired = true
		}
		c.mu.Unlock()
		if due == nil {
			return
		}
		due.fn()
	}
}

type gatewayCall struct {
	Kind    gateway.RequestKind
	Payload map[string]any
}

// fakeGateway serves scripted responses per request kind.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []gatewayCall
	responses map[gateway.RequestKind]*gateway.NormalizedResponse
	intel     []map[string]any
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{responses: make(map[gateway.RequestKind]*gateway.NormalizedResponse)}
}

func (g *fakeGateway) respond(kind gateway.RequestKind, resp *gateway.NormalizedResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.responses[kind] = resp
}

func (g *fakeGateway) SendChatRequest(_ context.Context, kind gateway.RequestKind, _, _ string, payload map[string]any) *gateway.NormalizedResponse {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, gatewayCall{Kind: kind, Payload: payload})
	if resp, ok := g.responses[kind]; ok {
		return resp
	}
	return &gateway.NormalizedResponse{MainText: "scripted reply", Buttons: []string{}, BotMode: gateway.BotModeDefault}
}

func (g *fakeGateway) SendIntelligenceUpdate(_ context.Context, _ string, payload map[string]any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intel = append(g.intel, payload)
	return nil
}

func (g *fakeGateway) callsByKind(kind gateway.RequestKind) []gatewayCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []gatewayCall
	for _, c := range g.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// fakeSink records pushed transitions.
type fakeSink struct {
	mu       sync.Mutex
	messages []Message
	typing   int
}

func (s *fakeSink) PushMessage(_ string, msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *fakeSink) PushTyping(_ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing++
}

func (s *fakeSink) byKind(kind string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Message
	for _, m := range s.messages {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// fakeBookingAPI counts calls and can serve errors or block to simulate a
// slow endpoint.
type fakeBookingAPI struct {
	mu          sync.Mutex
	createCalls int
	cancelCalls int
	err         error
	block       chan struct{}
}

func (f *fakeBookingAPI) Create(_ context.Context, _ BookingRequest) (*BookingConfirmation, error) {
	f.mu.Lock()
	f.createCalls++
	block := f.block
	err := f.err
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &BookingConfirmation{ConfirmationNumber: "CNF-1234"}, nil
}

func (f *fakeBookingAPI) Reschedule(_ context.Context, _ RescheduleRequest) (*BookingConfirmation, error) {
	return &BookingConfirmation{ConfirmationNumber: "CNF-5678"}, nil
}

func (f *fakeBookingAPI) Cancel(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.err
}

func (f *fakeBookingAPI) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type testEngine struct {
	engine  *Engine
	clock   *fakeClock
	gateway *fakeGateway
	sink    *fakeSink
	api     *fakeBookingAPI
	store   *session.Store
}

func newTestEngine(t *testing.T, mutate ...func(*Config)) *testEngine {
	t.Helper()
	cfg := Config{AIQuestionsEnabled: true, AutoOpenOnProactive: true}
	for _, m := range mutate {
		m(&cfg)
	}

	clk := newFakeClock()
	gw := newFakeGateway()
	sink := &fakeSink{}
	api := &fakeBookingAPI{}
	store := session.NewStore(nil, time.Hour, logging.New("error"))

	eng := newEngine(cfg, "sess-1", store, gw, api, sink, nil, nil, logging.New("error"), clk)
	return &testEngine{engine: eng, clock: clk, gateway: gw, sink: sink, api: api, store: store}
}

// pricingSnapshot is a ready-made snapshot over a pricing section.
func pricingSnapshot() pagecontext.Snapshot {
	return pagecontext.ClassifyViewport(pagecontext.PageView{
		URL:         "https://example.com/",
		SectionName: "pricing",
		Viewport:    pagecontext.Viewport{Top: 0, Height: 900},
		Elements: []pagecontext.Element{
			{Tag: "h2", Text: "Pricing", Top: 40, Height: 60},
			{Tag: "div", Text: "$29 /mo", Classes: []string{"plan-card"}, Top: 120, Height: 300},
			{Tag: "a", Text: "Get started", Classes: []string{"btn"}, Top: 460, Height: 44},
		},
		ScrollPercentage: 30,
	})
}
