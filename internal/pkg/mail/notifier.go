package mail

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/roamwire/roamwire/app/models"
	"github.com/roamwire/roamwire/internal/pkg/config"
)

// ActivationEmail is everything a customer needs to install their eSIM.
type ActivationEmail struct {
	TransactionID string
	CustomerEmail string
	CustomerName  string
	Confirmation  models.Confirmation
}

// Notifier delivers customer notifications. Implementations must honour ctx
// deadlines; callers keep them short.
type Notifier interface {
	SendActivationEmail(ctx context.Context, msg ActivationEmail) (string, error)
}

// NewNotifier builds the notifier selected by cfg.Driver.
func NewNotifier(cfg config.NotificationConfig) (Notifier, error) {
	switch cfg.Driver {
	case "smtp":
		return NewSMTPMailer(cfg.SMTP), nil
	case "kafka":
		return NewKafkaNotifier(cfg.Kafka), nil
	case "log":
		return LogNotifier{}, nil
	default:
		return nil, fmt.Errorf("unknown notification driver %q", cfg.Driver)
	}
}

// LogNotifier only logs. Useful for local development.
type LogNotifier struct{}

func (LogNotifier) SendActivationEmail(ctx context.Context, msg ActivationEmail) (string, error) {
	id := uuid.NewString()
	log.Infof("[Mail] activation email %s for order %s to %s (iccid %s)", id, msg.TransactionID, msg.CustomerEmail, msg.Confirmation.ICCID)
	return id, nil
}
