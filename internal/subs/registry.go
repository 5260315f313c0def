// Package subs tracks who receives alerts for which rooms.
//
// A subscriber moves through two phases: a learning window right after
// selecting rooms (history warms up, only countdown updates are sent),
// then active (alerts flow). Stopping drops the subscriber entirely.
package subs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"aviamon/internal/market"
	"aviamon/internal/runtime/supervisor"
	kit "aviamon/internal/transport"
	logx "aviamon/pkg/logx"
)

type Phase string

const (
	PhaseLearning Phase = "learning"
	PhaseActive   Phase = "active"
)

const DefaultLearningDuration = 3 * time.Minute

// Sink receives subscriber-facing messages (countdowns, completion).
type Sink interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Subscription is a read-only snapshot of one subscriber's state.
type Subscription struct {
	UserID   int64
	ChatID   int64
	Rooms    []market.RoomID
	Phase    Phase
	Deadline time.Time // zero once active
}

type entry struct {
	chatID   int64
	rooms    map[market.RoomID]bool
	phase    Phase
	deadline time.Time
	cancel   context.CancelFunc
}

type Registry struct {
	sup  *supervisor.Supervisor
	sink Sink
	log  logx.Logger

	mu       sync.Mutex
	subs     map[int64]*entry
	learning time.Duration

	// test seams
	now  func() time.Time
	tick time.Duration
}

type Option func(*Registry)

// WithClock overrides the wall clock and countdown cadence.
func WithClock(now func() time.Time, tick time.Duration) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
		if tick > 0 {
			r.tick = tick
		}
	}
}

func WithLearningDuration(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.learning = d
		}
	}
}

func New(sup *supervisor.Supervisor, sink Sink, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{
		sup:      sup,
		sink:     sink,
		log:      log,
		subs:     make(map[int64]*entry),
		learning: DefaultLearningDuration,
		now:      time.Now,
		tick:     time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) LearningDuration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.learning
}

// SetLearningDuration applies a new learning window to future selections.
// Countdowns already in flight keep their original deadline.
func (r *Registry) SetLearningDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.learning = d
	r.mu.Unlock()
}

// Select replaces the user's room selection and restarts the learning
// phase. A previous countdown for the same user is cancelled first.
func (r *Registry) Select(userID, chatID int64, rooms ...market.RoomID) Subscription {
	set := make(map[market.RoomID]bool, len(rooms))
	for _, room := range rooms {
		if room.Valid() {
			set[room] = true
		}
	}

	r.mu.Lock()
	if prev, ok := r.subs[userID]; ok && prev.cancel != nil {
		prev.cancel()
	}
	deadline := r.now().Add(r.learning)
	ctx, cancel := context.WithCancel(r.sup.Context())
	e := &entry{
		chatID:   chatID,
		rooms:    set,
		phase:    PhaseLearning,
		deadline: deadline,
		cancel:   cancel,
	}
	r.subs[userID] = e
	snap := r.snapshotLocked(userID, e)
	r.mu.Unlock()

	r.log.Info("subscription started",
		logx.Int64("user_id", userID),
		logx.Int("rooms", len(set)),
		logx.Time("deadline", deadline))

	r.sup.Go0(fmt.Sprintf("subs.countdown.%d", userID), func(context.Context) {
		r.countdown(ctx, userID, e)
	})
	return snap
}

// SelectAll subscribes the user to every room.
func (r *Registry) SelectAll(userID, chatID int64) Subscription {
	return r.Select(userID, chatID, market.Rooms()...)
}

// Stop drops the user's subscription and cancels any countdown.
// It reports whether a subscription existed.
func (r *Registry) Stop(userID int64) bool {
	r.mu.Lock()
	e, ok := r.subs[userID]
	if ok {
		delete(r.subs, userID)
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()
	if ok {
		r.log.Info("subscription stopped", logx.Int64("user_id", userID))
	}
	return ok
}

// StopAll cancels every countdown; used during shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for _, e := range r.subs {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()
}

// Snapshot returns the user's subscription, if any.
func (r *Registry) Snapshot(userID int64) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.subs[userID]
	if !ok {
		return Subscription{}, false
	}
	return r.snapshotLocked(userID, e), true
}

func (r *Registry) snapshotLocked(userID int64, e *entry) Subscription {
	rooms := make([]market.RoomID, 0, len(e.rooms))
	for room := range e.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	s := Subscription{
		UserID: userID,
		ChatID: e.chatID,
		Rooms:  rooms,
		Phase:  e.phase,
	}
	if e.phase == PhaseLearning {
		s.Deadline = e.deadline
	}
	return s
}

// ActiveRecipients lists chat ids of active subscribers for the room.
func (r *Registry) ActiveRecipients(room market.RoomID) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for _, e := range r.subs {
		if e.phase == PhaseActive && e.rooms[room] {
			out = append(out, e.chatID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Recipients lists chat ids of every subscriber (any phase) for digests.
func (r *Registry) Recipients() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Subscription, 0, len(r.subs))
	for id, e := range r.subs {
		out = append(out, r.snapshotLocked(id, e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) Count() (learning, active int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.subs {
		switch e.phase {
		case PhaseLearning:
			learning++
		case PhaseActive:
			active++
		}
	}
	return learning, active
}

// countdown drives one learning phase: a progress message on every tick,
// then a completion message when the deadline passes. A cancelled context
// (restart or stop) ends it silently.
func (r *Registry) countdown(ctx context.Context, userID int64, e *entry) {
	t := time.NewTicker(r.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		remaining := e.deadline.Sub(r.now())
		if remaining > 0 {
			r.notify(ctx, e.chatID, progressText(remaining))
			continue
		}

		r.mu.Lock()
		cur, ok := r.subs[userID]
		stale := !ok || cur != e
		if !stale {
			cur.phase = PhaseActive
		}
		r.mu.Unlock()
		if stale || ctx.Err() != nil {
			return
		}

		r.log.Info("learning complete", logx.Int64("user_id", userID))
		r.notify(ctx, e.chatID, completionText(r.roomsOf(e)))
		return
	}
}

func (r *Registry) roomsOf(e *entry) []market.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]market.RoomID, 0, len(e.rooms))
	for room := range e.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
	return rooms
}

func (r *Registry) notify(ctx context.Context, chatID int64, text string) {
	if r.sink == nil || ctx.Err() != nil {
		return
	}
	err := r.sink.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: 3,
		Target:   kit.ChatTarget{ChatID: chatID},
		Text:     text,
	})
	if err != nil {
		r.log.Debug("countdown notify failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func progressText(remaining time.Duration) string {
	mins := int(remaining.Round(time.Minute) / time.Minute)
	if mins < 1 {
		mins = 1
	}
	unit := "minutes"
	if mins == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("⏳ Learning in progress: %d %s remaining...", mins, unit)
}

func completionText(rooms []market.RoomID) string {
	names := make([]string, 0, len(rooms))
	profiles := market.DefaultProfiles()
	for _, room := range rooms {
		if p, ok := profiles[room]; ok {
			names = append(names, p.Display)
		}
	}
	if len(names) == 0 {
		return "✅ Learning complete! Alerts are now active."
	}
	out := "✅ Learning complete! Alerts are now active for:"
	for _, n := range names {
		out += "\n• " + n
	}
	return out
}
