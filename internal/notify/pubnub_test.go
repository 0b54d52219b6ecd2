package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/iliyamo/event-checkin/internal/config"
	"github.com/iliyamo/event-checkin/internal/queue"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, channel string, message any) error {
	args := m.Called(channel, message)
	return args.Error(0)
}

func TestNotifier_CheckinRecorded(t *testing.T) {
	pub := new(mockPublisher)
	ev := queue.CheckinRecordedEvent{RecordID: "r1", BookingID: "b1", EventID: "E1", Outcome: "REDEEMED"}
	pub.On("Publish", "checkin-E1", map[string]any{"type": "checkin", "event": ev}).Return(nil).Once()

	n := New(pub, "checkin-")
	assert.NoError(t, n.CheckinRecorded(context.Background(), ev))
	pub.AssertExpectations(t)
}

func TestNotifier_Errors(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", "gate-E2", mock.Anything).Return(errors.New("403 forbidden"))

	n := New(pub, "gate-")
	err := n.CheckinRecorded(context.Background(), queue.CheckinRecordedEvent{EventID: "E2"})
	assert.ErrorContains(t, err, "403 forbidden")

	// Records without an event (undecodable payloads) have no channel.
	assert.NoError(t, n.CheckinRecorded(context.Background(), queue.CheckinRecordedEvent{RecordID: "r2"}))
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestNewPubNubPublisher(t *testing.T) {
	p := NewPubNubPublisher(config.PubNubConfig{PublishKey: "pub-c-x", SubscribeKey: "sub-c-x", UserID: "srv"})
	assert.NotNil(t, p)
}
