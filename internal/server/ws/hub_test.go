package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

func TestClientSubscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelPlans: true}}
	if !c.isSubscribed(domain.ChannelPlans) || c.isSubscribed(domain.ChannelDecisions) {
		t.Fatal("exact channel match")
	}

	c.apply(subscribeMsg{Action: "subscribe", Channels: []string{"cyclearb:*"}})
	if !c.isSubscribed(domain.ChannelDecisions) {
		t.Fatal("trailing * must match as a prefix")
	}

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{"cyclearb:*", domain.ChannelPlans}})
	if c.isSubscribed(domain.ChannelPlans) || c.isSubscribed(domain.ChannelDecisions) {
		t.Fatalf("subs after unsubscribe = %v", c.subs)
	}

	c.apply(subscribeMsg{Action: "bogus", Channels: []string{domain.ChannelPlans}})
	if len(c.subs) != 0 {
		t.Fatalf("unknown action changed subs: %v", c.subs)
	}
}

func TestStatusFrame(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHub(nil, logger, Config{
		Mode:      " Scanner ",
		StartedAt: time.Now().Add(-time.Minute),
		Cycles:    func() int { return 4 },
	})

	var frame struct {
		Type    string `json:"type"`
		Payload struct {
			Mode     string   `json:"mode"`
			Cycles   int      `json:"cycles"`
			Channels []string `json:"channels"`
			Uptime   int64    `json:"uptime_seconds"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(h.statusFrame(), &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "status" || frame.Payload.Mode != "scanner" || frame.Payload.Cycles != 4 {
		t.Fatalf("frame = %+v", frame)
	}
	if len(frame.Payload.Channels) != len(Channels) || frame.Payload.Uptime < 59 {
		t.Fatalf("frame = %+v", frame)
	}
}
