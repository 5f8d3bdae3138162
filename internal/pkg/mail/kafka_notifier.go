package mail

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/roamwire/roamwire/internal/pkg/config"
)

// KafkaNotifier hands activation emails to the notification service through a
// Kafka topic. The message id is the returned notification id.
type KafkaNotifier struct {
	writer *kafka.Writer
}

type notificationMessage struct {
	NotificationID string            `json:"notification_id"`
	Template       string            `json:"template"`
	To             string            `json:"to"`
	Subject        string            `json:"subject"`
	Data           map[string]string `json:"data"`
	CreatedAt      time.Time         `json:"created_at"`
}

func NewKafkaNotifier(cfg config.KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: false,
		},
	}
}

func (n *KafkaNotifier) SendActivationEmail(ctx context.Context, msg ActivationEmail) (string, error) {
	m, id, err := buildKafkaMessage(msg, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if err := n.writer.WriteMessages(ctx, m); err != nil {
		return "", err
	}
	return id, nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Messages are keyed by transaction id so one order's notifications stay ordered.
func buildKafkaMessage(msg ActivationEmail, now time.Time) (kafka.Message, string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(notificationMessage{
		NotificationID: id,
		Template:       "activation_email",
		To:             msg.CustomerEmail,
		Subject:        activationSubject,
		Data: map[string]string{
			"transaction_id":  msg.TransactionID,
			"customer_name":   msg.CustomerName,
			"iccid":           msg.Confirmation.ICCID,
			"activation_code": msg.Confirmation.ActivationCode,
			"smdp_address":    msg.Confirmation.SMDPAddress,
		},
		CreatedAt: now,
	})
	if err != nil {
		return kafka.Message{}, "", err
	}
	return kafka.Message{
		Key:   []byte(msg.TransactionID),
		Value: payload,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "notification_id", Value: []byte(id)},
		},
	}, id, nil
}
