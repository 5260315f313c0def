package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"

	"aviamon/internal/market"
	rtsup "aviamon/internal/runtime/supervisor"
	"aviamon/internal/subs"
	kit "aviamon/internal/transport"
	logx "aviamon/pkg/logx"
)

type sentMessage struct {
	chat kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sentMessage
	acked []string
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chat: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, callbackID)
	return nil
}

func (f *fakeAdapter) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

type fakePredictions struct {
	preds map[market.RoomID]market.Prediction
}

func (f *fakePredictions) LastPrediction(room market.RoomID) (market.Prediction, bool) {
	p, ok := f.preds[room]
	return p, ok
}

type nopSink struct{}

func (nopSink) Notify(ctx context.Context, n kit.Notification) error { return nil }

func newTestDeps(t *testing.T) (Deps, *fakeAdapter) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sup := rtsup.New(ctx)
	t.Cleanup(func() {
		cancel()
		wctx, wcancel := context.WithTimeout(context.Background(), time.Second)
		defer wcancel()
		_ = sup.Wait(wctx)
	})
	reg := subs.New(sup, nopSink{}, logx.Nop(), subs.WithLearningDuration(time.Minute))
	return Deps{
		Subs:     reg,
		Monitor:  &fakePredictions{preds: map[market.RoomID]market.Prediction{}},
		Profiles: market.DefaultProfiles(),
	}, &fakeAdapter{}
}

func commandByName(t *testing.T, cmds []Command, name string) Command {
	t.Helper()
	for _, c := range cmds {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %q not registered", name)
	return Command{}
}

func callbackByPrefix(t *testing.T, cbs []CallbackRoute, prefix string) CallbackRoute {
	t.Helper()
	for _, c := range cbs {
		if c.Prefix == prefix {
			return c
		}
	}
	t.Fatalf("callback %q not registered", prefix)
	return CallbackRoute{}
}

func newRequest(adapter *fakeAdapter, userID, chatID int64) *Request {
	return &Request{
		Chat:    kit.ChatTarget{ChatID: chatID},
		FromID:  userID,
		Adapter: adapter,
		Logger:  logx.Nop(),
	}
}

func TestStartSendsRoomKeyboard(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)

	cmd := commandByName(t, Commands(deps), "start")
	if err := cmd.Handle(context.Background(), newRequest(adapter, 1, 10)); err != nil {
		t.Fatalf("start: %v", err)
	}

	msgs := adapter.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "Pick a room") {
		t.Errorf("welcome text = %q", msgs[0].text)
	}
	if msgs[0].opt == nil {
		t.Fatal("no send options attached")
	}
	rm, ok := msgs[0].opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	if !ok {
		t.Fatalf("markup is %T, want *tele.ReplyMarkup", msgs[0].opt.ReplyMarkupAdapter)
	}
	if len(rm.InlineKeyboard) != 3 {
		t.Errorf("keyboard rows = %d, want 3", len(rm.InlineKeyboard))
	}
}

func TestStopCommand(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)
	cmd := commandByName(t, Commands(deps), "stop")

	if err := cmd.Handle(context.Background(), newRequest(adapter, 1, 10)); err != nil {
		t.Fatalf("stop: %v", err)
	}
	deps.Subs.Select(1, 10, market.Room1)
	if err := cmd.Handle(context.Background(), newRequest(adapter, 1, 10)); err != nil {
		t.Fatalf("stop: %v", err)
	}

	msgs := adapter.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "no active subscription") {
		t.Errorf("first stop reply = %q", msgs[0].text)
	}
	if !strings.Contains(msgs[1].text, "Alerts stopped") {
		t.Errorf("second stop reply = %q", msgs[1].text)
	}
	if learning, active := deps.Subs.Count(); learning+active != 0 {
		t.Errorf("registry still holds %d subscriptions", learning+active)
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	deps, _ := newTestDeps(t)

	if got := statusText(deps, 7); !strings.Contains(got, "not subscribed") {
		t.Errorf("unsubscribed status = %q", got)
	}

	deps.Subs.Select(7, 70, market.Room3)
	deps.Monitor = &fakePredictions{preds: map[market.RoomID]market.Prediction{
		market.Room3: {
			Room:       market.Room3,
			Trend:      market.TrendUpward,
			Confidence: 0.8,
			Volatility: 1.25,
			RecentHigh: 42.5,
			Probabilities: map[float64]float64{
				5:  0.9,
				20: 0.4,
			},
		},
	}}

	got := statusText(deps, 7)
	for _, want := range []string{
		"Phase: learning",
		deps.Profiles[market.Room3].Display,
		"Trend: UPWARD",
		"Confidence: 80%",
		"Recent high: 42.50x",
		"Best target: 5x at 90%",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q:\n%s", want, got)
		}
	}
}

func TestStatusNoData(t *testing.T) {
	t.Parallel()
	deps, _ := newTestDeps(t)
	deps.Subs.Select(3, 30, market.Room2)

	if got := statusText(deps, 3); !strings.Contains(got, "No data yet") {
		t.Errorf("status = %q", got)
	}
}

func TestRoomCallbackSelects(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)
	cb := callbackByPrefix(t, Callbacks(deps), "room")

	if err := cb.Handle(context.Background(), newRequest(adapter, 5, 50), "2"); err != nil {
		t.Fatalf("room callback: %v", err)
	}

	snap, ok := deps.Subs.Snapshot(5)
	if !ok {
		t.Fatal("no subscription after selection")
	}
	if len(snap.Rooms) != 1 || snap.Rooms[0] != market.Room2 {
		t.Errorf("rooms = %v, want [room2]", snap.Rooms)
	}

	msgs := adapter.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].text, "Learning phase started") {
		t.Errorf("reply = %q", msgs[0].text)
	}
	if !strings.Contains(msgs[0].text, deps.Profiles[market.Room2].Display) {
		t.Errorf("reply missing room name: %q", msgs[0].text)
	}
}

func TestRoomCallbackAll(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)
	cb := callbackByPrefix(t, Callbacks(deps), "room")

	if err := cb.Handle(context.Background(), newRequest(adapter, 6, 60), "all"); err != nil {
		t.Fatalf("room callback: %v", err)
	}
	snap, ok := deps.Subs.Snapshot(6)
	if !ok {
		t.Fatal("no subscription after selection")
	}
	if len(snap.Rooms) != len(market.Rooms()) {
		t.Errorf("rooms = %v, want all", snap.Rooms)
	}
}

func TestRoomCallbackUnknownPayload(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)
	cb := callbackByPrefix(t, Callbacks(deps), "room")

	req := newRequest(adapter, 8, 80)
	req.Update = kit.Update{
		Kind:     kit.UpdateCallback,
		Callback: &kit.Callback{ID: "cb-1", FromID: 8, ChatID: 80, Data: "room:9"},
	}
	if err := cb.Handle(context.Background(), req, "9"); err != nil {
		t.Fatalf("room callback: %v", err)
	}
	if learning, active := deps.Subs.Count(); learning+active != 0 {
		t.Error("unknown payload created a subscription")
	}
	if len(adapter.messages()) != 0 {
		t.Error("unknown payload sent a message")
	}
}

func TestTopTarget(t *testing.T) {
	t.Parallel()
	pred := market.Prediction{Probabilities: map[float64]float64{
		5:  0.6,
		20: 0.6,
		50: 0.3,
	}}
	target, prob := topTarget(pred)
	if target != 20 || prob != 0.6 {
		t.Errorf("topTarget = (%v, %v), want (20, 0.6)", target, prob)
	}
	if target, _ := topTarget(market.Prediction{}); target != 0 {
		t.Errorf("empty prediction target = %v, want 0", target)
	}
}

func TestStatsText(t *testing.T) {
	t.Parallel()
	deps, _ := newTestDeps(t)
	deps.Subs.Select(1, 10, market.Room1)

	got := statsText(deps)
	for _, want := range []string{
		"Bot stats",
		"1 learning / 0 active",
		deps.Profiles[market.Room1].Display,
		"No data yet",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("stats missing %q:\n%s", want, got)
		}
	}
}

func TestOwnerOnlyCommandGate(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)

	r := New(logx.Nop(), adapter)
	r.SetRegistry(Commands(deps), Callbacks(deps))
	r.SetOwners([]int64{42})

	up := kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 10, FromID: 7, Text: "/stats"},
	}
	r.routeMessage(context.Background(), up)

	msgs := adapter.messages()
	if len(msgs) != 1 || msgs[0].text != "unauthorized" {
		t.Fatalf("messages = %+v, want one unauthorized reply", msgs)
	}

	// The owner's command is enqueued for a worker, not rejected.
	up.Message = &kit.Message{ChatID: 10, FromID: 42, Text: "/stats"}
	r.routeMessage(context.Background(), up)
	select {
	case job := <-r.jobs:
		job()
	default:
		t.Fatal("owner command was not enqueued")
	}
	msgs = adapter.messages()
	if len(msgs) != 2 || !strings.Contains(msgs[1].text, "Bot stats") {
		t.Fatalf("stats reply = %+v", msgs)
	}
}

func TestDispatchRoutesCommand(t *testing.T) {
	t.Parallel()
	deps, adapter := newTestDeps(t)

	r := New(logx.Nop(), adapter)
	r.SetRegistry(Commands(deps), Callbacks(deps))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan kit.Update, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.DispatchLoop(ctx, updates)
	}()

	updates <- kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: 10, FromID: 1, Text: "/help"},
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := adapter.messages(); len(msgs) > 0 {
			if !strings.Contains(msgs[0].text, "/start") {
				t.Errorf("help reply = %q", msgs[0].text)
			}
			cancel()
			<-done
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("command was never handled")
}
