package router

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"aviamon/internal/market"
	"aviamon/internal/subs"
	kit "aviamon/internal/transport"
)

// Predictions exposes the latest per-room analysis.
type Predictions interface {
	LastPrediction(room market.RoomID) (market.Prediction, bool)
}

// Deps are the services the command surface talks to.
type Deps struct {
	Subs     *subs.Registry
	Monitor  Predictions
	Profiles map[market.RoomID]market.Profile
}

// Commands builds the bot's slash command table.
func Commands(d Deps) []Command {
	return []Command{
		{
			Name:        "start",
			Description: "pick rooms to watch",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, welcomeText(), &kit.SendOptions{
					DisablePreview:     true,
					ReplyMarkupAdapter: roomKeyboard(),
				})
				return err
			},
		},
		{
			Name:        "stop",
			Description: "stop all alerts",
			Handle: func(ctx context.Context, req *Request) error {
				var text string
				if d.Subs.Stop(req.FromID) {
					text = "🛑 Alerts stopped. Use /start to subscribe again."
				} else {
					text = "You have no active subscription. Use /start to pick rooms."
				}
				_, err := req.Adapter.SendText(ctx, req.Chat, text, nil)
				return err
			},
		},
		{
			Name:        "status",
			Description: "current rooms and predictions",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, statusText(d, req.FromID), nil)
				return err
			},
		},
		{
			Name:        "help",
			Description: "how this bot works",
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, helpText(), &kit.SendOptions{DisablePreview: true})
				return err
			},
		},
		{
			Name:        "stats",
			Description: "subscriber and room stats",
			Access:      AccessOwnerOnly,
			Handle: func(ctx context.Context, req *Request) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, statsText(d), nil)
				return err
			},
		},
	}
}

// Callbacks builds the inline-button table. Data format is
// "room:<1|2|3|all>" and "status:show".
func Callbacks(d Deps) []CallbackRoute {
	return []CallbackRoute{
		{
			Prefix: "room",
			Handle: func(ctx context.Context, req *Request, payload string) error {
				var snap subs.Subscription
				switch payload {
				case "1":
					snap = d.Subs.Select(req.FromID, req.Chat.ChatID, market.Room1)
				case "2":
					snap = d.Subs.Select(req.FromID, req.Chat.ChatID, market.Room2)
				case "3":
					snap = d.Subs.Select(req.FromID, req.Chat.ChatID, market.Room3)
				case "all":
					snap = d.Subs.SelectAll(req.FromID, req.Chat.ChatID)
				default:
					return req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "unknown room")
				}
				_, err := req.Adapter.SendText(ctx, req.Chat, selectionText(d, snap), nil)
				return err
			},
		},
		{
			Prefix: "status",
			Handle: func(ctx context.Context, req *Request, _ string) error {
				_, err := req.Adapter.SendText(ctx, req.Chat, statusText(d, req.FromID), nil)
				return err
			},
		},
	}
}

// roomKeyboard carries raw "prefix:payload" callback data so the router
// can split it with a single Cut.
func roomKeyboard() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(
			tele.Btn{Text: "🔵 Room 1", Data: "room:1"},
			tele.Btn{Text: "🔴 Room 2", Data: "room:2"},
		),
		rm.Row(
			tele.Btn{Text: "🟢 Room 3", Data: "room:3"},
			tele.Btn{Text: "📡 All rooms", Data: "room:all"},
		),
		rm.Row(tele.Btn{Text: "📋 Status", Data: "status:show"}),
	)
	return rm
}

func welcomeText() string {
	return strings.Join([]string{
		"👋 Welcome!",
		"",
		"Pick a room to watch. After a short learning phase you will get",
		"alerts whenever a room looks likely to hit a high multiplier.",
		"",
		"🔵 Room 1: low risk, small targets",
		"🔴 Room 2: medium risk",
		"🟢 Room 3: high risk, big targets",
	}, "\n")
}

func helpText() string {
	return strings.Join([]string{
		"Commands:",
		"/start - pick rooms to watch",
		"/status - current rooms and predictions",
		"/stop - stop all alerts",
		"/help - this message",
		"",
		"Selecting a room starts a learning phase during which history",
		"warms up; alerts begin once it completes. Selecting again",
		"restarts the phase with the new rooms.",
	}, "\n")
}

func selectionText(d Deps, snap subs.Subscription) string {
	var b strings.Builder
	b.WriteString("🎓 Learning phase started")
	if dur := d.Subs.LearningDuration(); dur > 0 {
		fmt.Fprintf(&b, " (%s)", dur)
	}
	b.WriteString("\nWatching:\n")
	for _, room := range snap.Rooms {
		if p, ok := d.Profiles[room]; ok {
			fmt.Fprintf(&b, "• %s\n", p.Display)
		}
	}
	b.WriteString("\nYou will get a countdown update every minute.")
	return b.String()
}

func statusText(d Deps, userID int64) string {
	snap, ok := d.Subs.Snapshot(userID)
	if !ok {
		return "You are not subscribed. Use /start to pick rooms."
	}

	var b strings.Builder
	b.WriteString("📋 Your status\n")
	switch snap.Phase {
	case subs.PhaseLearning:
		b.WriteString("Phase: learning (alerts start soon)\n")
	default:
		b.WriteString("Phase: active\n")
	}

	for _, room := range snap.Rooms {
		p, ok := d.Profiles[room]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n📍 %s\n", p.Display)
		pred, ok := d.Monitor.LastPrediction(room)
		if !ok {
			b.WriteString("No data yet.\n")
			continue
		}
		fmt.Fprintf(&b, "Trend: %s\n", pred.Trend)
		fmt.Fprintf(&b, "Confidence: %.0f%% | Volatility: %.2f\n", pred.Confidence*100, pred.Volatility)
		fmt.Fprintf(&b, "Recent high: %.2fx\n", pred.RecentHigh)
		if target, prob := topTarget(pred); target > 0 {
			fmt.Fprintf(&b, "Best target: %gx at %.0f%%\n", target, prob*100)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// statsText is the owner view: subscriber counts plus the latest
// analysis per room, subscribed or not.
func statsText(d Deps) string {
	learning, active := d.Subs.Count()

	var b strings.Builder
	b.WriteString("📊 Bot stats\n")
	fmt.Fprintf(&b, "Subscribers: %d learning / %d active\n", learning, active)
	for _, room := range market.Rooms() {
		p, ok := d.Profiles[room]
		if !ok {
			continue
		}
		pred, ok := d.Monitor.LastPrediction(room)
		if !ok {
			fmt.Fprintf(&b, "\n📍 %s\nNo data yet.\n", p.Display)
			continue
		}
		fmt.Fprintf(&b, "\n📍 %s\n", p.Display)
		fmt.Fprintf(&b, "Trend: %s | Confidence: %.0f%%\n", pred.Trend, pred.Confidence*100)
		fmt.Fprintf(&b, "Volatility: %.2f | Recent high: %.2fx\n", pred.Volatility, pred.RecentHigh)
	}
	return strings.TrimRight(b.String(), "\n")
}

// topTarget picks the highest-probability target, preferring the larger
// target on ties.
func topTarget(pred market.Prediction) (float64, float64) {
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
