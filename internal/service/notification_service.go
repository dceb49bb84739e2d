package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/civicworks/civic-issues/internal/events"
	"github.com/civicworks/civic-issues/internal/notification"
	"github.com/civicworks/civic-issues/internal/realtime"
	"github.com/civicworks/civic-issues/internal/worker"
)

// JobRunner accepts background jobs without blocking. Jobs sharing a key
// run in submission order.
type JobRunner interface {
	Submit(key string, job worker.Job) bool
}

// NotificationService turns committed issue events into pushed payloads.
// Routing happens inline; delivery runs on the job runner when one is set.
type NotificationService struct {
	dispatcher events.Dispatcher
	router     *notification.Router
	bus        realtime.Bus
	jobs       JobRunner
	logger     *zap.Logger
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Router     *notification.Router
	Bus        realtime.Bus
	Jobs       JobRunner
	Logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	router := deps.Router
	if router == nil {
		router = notification.NewRouter()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		router:     router,
		bus:        deps.Bus,
		jobs:       deps.Jobs,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventIssueCreated, n.handleIssueCreated)
	for _, eventType := range []events.EventType{
		events.EventIssueStatusChanged,
		events.EventIssueAssigned,
		events.EventIssueEscalated,
		events.EventIssueMarkedDuplicate,
		events.EventIssueCommented,
	} {
		n.dispatcher.Subscribe(eventType, n.handleIssueChanged)
	}
}

func (n *NotificationService) handleIssueCreated(ctx context.Context, event events.Event) error {
	n.deliver(event, n.router.RouteCreated(event.Payload.Issue))
	return nil
}

func (n *NotificationService) handleIssueChanged(ctx context.Context, event events.Event) error {
	n.deliver(event, n.router.RouteAll(event.Payload.AuditEvents, event.Payload.Issue))
	return nil
}

func (n *NotificationService) deliver(event events.Event, deliveries []notification.Delivery) {
	if len(deliveries) == 0 || n.bus == nil {
		return
	}
	job := func(ctx context.Context) {
		if err := n.bus.Publish(ctx, deliveries); err != nil {
			n.logger.Warn("notification delivery failed",
				zap.String("event_type", string(event.Type)),
				zap.String("issue_id", event.IssueID),
				zap.Error(err))
			return
		}
		n.logger.Debug("notifications delivered",
			zap.String("event_type", string(event.Type)),
			zap.String("issue_id", event.IssueID),
			zap.Int("deliveries", len(deliveries)))
	}

	if n.jobs == nil {
		job(context.Background())
		return
	}
	if !n.jobs.Submit(event.IssueID, job) {
		n.logger.Warn("notification job dropped",
			zap.String("event_type", string(event.Type)),
			zap.String("issue_id", event.IssueID))
	}
}
