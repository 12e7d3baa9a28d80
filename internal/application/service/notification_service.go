package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/b2b-provisioning/internal/application/dispatcher"
	"github.com/garyjia/b2b-provisioning/internal/application/port"
	"github.com/garyjia/b2b-provisioning/internal/domain/event"
)

// NotificationService turns workflow milestones into operator messages
type NotificationService interface {
	// Register subscribes the service to the milestones it reports on
	Register(d dispatcher.Dispatcher)

	// HandleEvent sends the message for one event. Events without a message are ignored.
	HandleEvent(ctx context.Context, evt *event.Event) error
}

type notificationServiceImpl struct {
	notifier port.Notifier
	logger   Logger
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier port.Notifier, logger Logger) NotificationService {
	return &notificationServiceImpl{
		notifier: notifier,
		logger:   logger,
	}
}

var notifiedTypes = []event.Type{
	event.TypeRequestScheduled,
	event.TypeRequestCompleted,
	event.TypeRequestCancelled,
	event.TypeTechnicianAssigned,
}

func (s *notificationServiceImpl) Register(d dispatcher.Dispatcher) {
	for _, t := range notifiedTypes {
		d.Subscribe(t, "ops_notification", s.HandleEvent)
	}
}

func (s *notificationServiceImpl) HandleEvent(ctx context.Context, evt *event.Event) error {
	message := buildMessage(evt)
	if message == "" {
		return nil
	}

	if err := s.notifier.Notify(ctx, message); err != nil {
		s.logger.Error("Failed to send notification",
			"event_type", evt.Type,
			"request_id", evt.RequestID,
			"error", err,
		)
		return fmt.Errorf("send notification: %w", err)
	}

	s.logger.Info("Notification sent successfully",
		"event_type", evt.Type,
		"request_id", evt.RequestID,
		"message_length", len(message),
	)
	return nil
}

func buildMessage(evt *event.Event) string {
	var b strings.Builder
	header := fmt.Sprintf("Install request %d (case %d)", evt.RequestID, evt.CaseID)

	switch evt.Type {
	case event.TypeRequestScheduled:
		fmt.Fprintf(&b, "%s is scheduled for %s.", header, evt.GetPayloadString("installation_date"))
		if tech := evt.GetPayloadInt("technician_user_id"); tech != 0 {
			fmt.Fprintf(&b, "\nTechnician: user %d", tech)
		} else {
			b.WriteString("\nNo technician assigned yet.")
		}
	case event.TypeRequestCompleted:
		fmt.Fprintf(&b, "%s is completed.", header)
		if evt.GetPayloadBool("training_completed") {
			b.WriteString("\nTraining completed.")
		} else {
			b.WriteString("\nTraining was NOT completed.")
		}
	case event.TypeRequestCancelled:
		fmt.Fprintf(&b, "%s was cancelled by %s.", header, evt.GetPayloadString("actor"))
	case event.TypeTechnicianAssigned:
		fmt.Fprintf(&b, "%s was assigned to technician user %d.", header, evt.GetPayloadInt("technician_user_id"))
	default:
		return ""
	}
	return b.String()
}
