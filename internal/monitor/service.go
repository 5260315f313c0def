// Package monitor runs the polling cycle: pull a round per room, extend
// history, re-analyze, and fan alerts out to active subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"aviamon/internal/analyzer"
	"aviamon/internal/eventbus"
	"aviamon/internal/history"
	"aviamon/internal/market"
	rtsup "aviamon/internal/runtime/supervisor"
	"aviamon/internal/source"
	"aviamon/internal/storage"
	"aviamon/internal/subs"
	kit "aviamon/internal/transport"
	logx "aviamon/pkg/logx"
)

// Sink receives outbound alerts and digests.
type Sink interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Members answers who should hear about a room right now.
type Members interface {
	ActiveRecipients(room market.RoomID) []int64
	Recipients() []subs.Subscription
}

type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	sink    Sink
	members Members
	hist    *history.Store
	store   storage.RoomStore

	mu       sync.Mutex
	cfg      Config
	src      source.DataSource
	profiles map[market.RoomID]market.Profile
	digest   cron.Schedule // nil when disabled

	sup     *rtsup.Supervisor
	running bool

	pmu  sync.RWMutex
	last map[market.RoomID]market.Prediction

	now func() time.Time
}

func New(
	cfg Config,
	src source.DataSource,
	hist *history.Store,
	store storage.RoomStore,
	members Members,
	sink Sink,
	bus eventbus.Bus,
	profiles map[market.RoomID]market.Profile,
	log logx.Logger,
) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		bus:      bus,
		sink:     sink,
		members:  members,
		hist:     hist,
		store:    store,
		src:      src,
		profiles: profiles,
		last:     make(map[market.RoomID]market.Prediction, len(profiles)),
		now:      time.Now,
	}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply installs a new config. The running poll loop picks the new
// intervals and thresholds up on its next iteration.
func (s *Service) Apply(cfg Config) error {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	cfg.Thresholds = cfg.Thresholds.withDefaults()

	var digest cron.Schedule
	if strings.TrimSpace(cfg.DigestSchedule) != "" {
		sched, err := parseSchedule(cfg.DigestSchedule)
		if err != nil {
			return fmt.Errorf("monitor.digest_schedule: %w", err)
		}
		digest = sched
	}

	s.mu.Lock()
	s.cfg = cfg
	s.digest = digest
	s.mu.Unlock()
	return nil
}

// SetSource swaps the data source; used when the source driver changes
// on config reload.
func (s *Service) SetSource(src source.DataSource) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "monitor"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	sup.GoRestart("poll", func(c context.Context) error {
		s.pollLoop(c)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("monitor poll loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	sup.GoRestart("digest", func(c context.Context) error {
		s.digestLoop(c)
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("monitor digest loop exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("monitor started",
		logx.Duration("poll_interval", s.interval()),
		logx.Bool("digest", s.digestSchedule() != nil))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.running = false
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = sup.Stop(ctx)
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval
}

func (s *Service) backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ErrorBackoff
}

func (s *Service) thresholds() Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Thresholds
}

func (s *Service) dataSource() source.DataSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src
}

func (s *Service) digestSchedule() cron.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest
}

func (s *Service) pollLoop(ctx context.Context) {
	for {
		ok := s.RunCycle(ctx)
		wait := s.interval()
		if !ok {
			wait = s.backoff()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RunCycle processes each watched room once. Rooms nobody subscribes
// to are not polled at all. It reports false when no room produced a
// round, which makes the poll loop back off instead of hammering a
// broken upstream.
func (s *Service) RunCycle(ctx context.Context) bool {
	src := s.dataSource()
	if src == nil {
		return false
	}
	th := s.thresholds()
	watched := s.watchedRooms()

	var okRooms, failedRooms, alertCount int
	for _, room := range market.Rooms() {
		if ctx.Err() != nil {
			return okRooms > 0
		}
		p, known := s.profiles[room]
		if !known || !watched[room] {
			continue
		}

		round, err := src.Pull(ctx, room)
		if err != nil {
			failedRooms++
			s.log.Warn("round pull failed; skipping room",
				logx.String("room", string(room)), logx.Err(err))
			continue
		}
		okRooms++

		s.hist.Append(round)
		if err := s.hist.Save(ctx, s.store, room); err != nil {
			s.log.Warn("round snapshot save failed",
				logx.String("room", string(room)), logx.Err(err))
		}

		pred := analyzer.Predict(p, s.hist.Snapshot(room), s.now())
		s.pmu.Lock()
		s.last[room] = pred
		s.pmu.Unlock()

		alerts := classify(pred, th)
		alertCount += len(alerts)
		if len(alerts) == 0 {
			continue
		}
		s.dispatch(ctx, p, pred, alerts)
	}

	if s.bus != nil {
		now := s.now()
		s.bus.Publish(eventbus.Event{Type: "monitor.cycle", Time: now, Data: CycleEvent{
			At: now, RoomsOK: okRooms, RoomsFailed: failedRooms, Alerts: alertCount,
		}})
	}
	return okRooms > 0 || failedRooms == 0
}

// watchedRooms reports the rooms with at least one subscriber, learning
// or active. Learning members count so history warms up before their
// phase ends.
func (s *Service) watchedRooms() map[market.RoomID]bool {
	if s.members == nil {
		return nil
	}
	out := make(map[market.RoomID]bool)
	for _, sub := range s.members.Recipients() {
		for _, room := range sub.Rooms {
			out[room] = true
		}
	}
	return out
}

func (s *Service) dispatch(ctx context.Context, p market.Profile, pred market.Prediction, alerts []Alert) {
	if s.sink == nil || s.members == nil {
		return
	}
	recipients := s.members.ActiveRecipients(pred.Room)
	if len(recipients) == 0 {
		return
	}
	for _, a := range alerts {
		text := alertText(a, pred, p.Display)
		// The rendered text carries a clock line, so dedup keys on the
		// alert identity instead.
		key := fmt.Sprintf("alert:%s:%s:%g", a.Room, a.Tier, a.Target)
		for _, chatID := range recipients {
			err := s.sink.Notify(ctx, kit.Notification{
				Channel:  "telegram",
				Priority: a.Priority,
				Target:   kit.ChatTarget{ChatID: chatID},
				Text:     text,
				Key:      key,
			})
			if err != nil {
				s.log.Debug("alert notify failed",
					logx.Int64("chat_id", chatID),
					logx.String("room", string(pred.Room)),
					logx.Err(err))
			}
		}
	}
	s.log.Info("alerts dispatched",
		logx.String("room", string(pred.Room)),
		logx.Int("alerts", len(alerts)),
		logx.Int("recipients", len(recipients)))
}

// LastPrediction returns the most recent prediction for the room, if any.
func (s *Service) LastPrediction(room market.RoomID) (market.Prediction, bool) {
	s.pmu.RLock()
	defer s.pmu.RUnlock()
	pred, ok := s.last[room]
	return pred, ok
}

func (s *Service) digestLoop(ctx context.Context) {
	for {
		sched := s.digestSchedule()
		if sched == nil {
			// Disabled; re-check periodically in case a reload enables it.
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}
		next := sched.Next(s.now())
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		s.sendDigest(ctx)
	}
}

func (s *Service) sendDigest(ctx context.Context) {
	if s.sink == nil || s.members == nil {
		return
	}
	for _, sub := range s.members.Recipients() {
		text := s.digestText(sub)
		if text == "" {
			continue
		}
		err := s.sink.Notify(ctx, kit.Notification{
			Channel: "telegram",
			Target:  kit.ChatTarget{ChatID: sub.ChatID},
			Text:    text,
		})
		if err != nil {
			s.log.Debug("digest notify failed", logx.Int64("chat_id", sub.ChatID), logx.Err(err))
		}
	}
}

func (s *Service) digestText(sub subs.Subscription) string {
	var b strings.Builder
	b.WriteString("📋 Status digest\n")
	if sub.Phase == subs.PhaseLearning {
		remaining := time.Until(sub.Deadline).Round(time.Second)
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(&b, "Phase: learning (%s remaining)\n", remaining)
	} else {
		b.WriteString("Phase: active\n")
	}
	for _, room := range sub.Rooms {
		p, ok := s.profiles[room]
		if !ok {
			continue
		}
		pred, ok := s.LastPrediction(room)
		if !ok {
			fmt.Fprintf(&b, "\n📍 %s\nNo data yet.\n", p.Display)
			continue
		}
		best, bestProb := bestTarget(pred)
		fmt.Fprintf(&b, "\n📍 %s\n", p.Display)
		fmt.Fprintf(&b, "Trend: %s | Confidence: %.0f%%\n", pred.Trend, pred.Confidence*100)
		fmt.Fprintf(&b, "Volatility: %.2f | Recent high: %.2fx\n", pred.Volatility, pred.RecentHigh)
		if best > 0 {
			fmt.Fprintf(&b, "Best target: %gx at %.0f%%\n", best, bestProb*100)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// bestTarget picks the highest-probability target, preferring the larger
// target on ties.
func bestTarget(pred market.Prediction) (float64, float64) {
	var target, prob float64
	for _, t := range market.Targets {
		p, ok := pred.Probabilities[t]
		if !ok {
			continue
		}
		if p > prob || (p == prob && t > target) {
			target, prob = t, p
		}
	}
	return target, prob
}
