// Package notify pushes live check-in events to PubNub so gate
// dashboards see admissions as they happen.
package notify

import (
	"context"
	"fmt"

	pubnub "github.com/pubnub/go/v7"

	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/queue"
)

// Publisher sends one message to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func (p pubnubPublisher) Publish(_ context.Context, channel string, message any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

// NewPubNubPublisher builds a PubNub client from cfg.
func NewPubNubPublisher(cfg config.PubNubConfig) Publisher {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.UserID))
	pnCfg.PublishKey = cfg.PublishKey
	pnCfg.SubscribeKey = cfg.SubscribeKey
	return pubnubPublisher{pn: pubnub.NewPubNub(pnCfg)}
}

// Notifier publishes check-in events to one channel per event.
type Notifier struct {
	pub    Publisher
	prefix string
}

func New(pub Publisher, channelPrefix string) *Notifier {
	return &Notifier{pub: pub, prefix: channelPrefix}
}

// Channel returns the channel name for an event.
func (n *Notifier) Channel(eventID string) string { return n.prefix + eventID }

// CheckinRecorded publishes ev on the channel of its event.
func (n *Notifier) CheckinRecorded(ctx context.Context, ev queue.CheckinRecordedEvent) error {
	if ev.EventID == "" {
		return nil
	}
	msg := map[string]any{
		"type":  "checkin",
		"event": ev,
	}
	if err := n.pub.Publish(ctx, n.Channel(ev.EventID), msg); err != nil {
		return fmt.Errorf("pubnub publish: %w", err)
	}
	return nil
}
