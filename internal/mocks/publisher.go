package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"player-portal/internal/observability"
	"player-portal/internal/telemetry"
)

// PublisherMock stands in for the broker behind audit records and event
// mirrors.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// ExpectAudit expects one audit record for action on target by actorID.
func (m *PublisherMock) ExpectAudit(routingKey, action, target, actorID string) *mock.Call {
	return m.On("Publish", mock.Anything, routingKey, mock.MatchedBy(func(ev telemetry.AuditEnvelope) bool {
		return ev.Action == action && ev.Target == target && ev.Actor.ID == actorID
	})).Return(nil).Once()
}

// ExpectEvent expects one mirrored realtime event under routingKey.
func (m *PublisherMock) ExpectEvent(routingKey, eventName string) *mock.Call {
	return m.On("Publish", mock.Anything, routingKey, mock.MatchedBy(func(ev observability.EventEnvelope) bool {
		return ev.EventName == eventName
	})).Return(nil).Once()
}

var (
	_ telemetry.Publisher     = (*PublisherMock)(nil)
	_ observability.Publisher = (*PublisherMock)(nil)
)
