package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/events"
)

// NotificationService fans account lifecycle events out to observers: a
// structured audit log line per event, plus the Redis event stream when
// one is configured.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	stream     *events.RedisPublisher
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, stream *events.RedisPublisher) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		stream:     stream,
	}
}

// RegisterHandlers subscribes to every account event.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes() {
		n.dispatcher.Subscribe(eventType, n.handleAccountEvent)
		if n.stream != nil {
			n.dispatcher.Subscribe(eventType, n.stream.Handle)
		}
	}
}

func (n *NotificationService) handleAccountEvent(_ context.Context, event events.Event) error {
	n.logger.Info("account event",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("user_id", event.UserID))
	return nil
}
