package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ids-dashboard/backend/models"
	"ids-dashboard/backend/system"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AlertNotifier receives attack alerts the dashboard has not seen before.
type AlertNotifier interface {
	NotifyAttacks(ctx context.Context, alerts []models.Alert) error
}

// alertEvent is the message published to brokers for each new attack.
type alertEvent struct {
	ID         string            `json:"id"`
	DetectedAt time.Time         `json:"detected_at"`
	SrcIP      string            `json:"src_ip"`
	Score      float64           `json:"score"`
	Threshold  float64           `json:"threshold"`
	AttackType models.AttackType `json:"attack_type"`
}

func newAlertEvent(a models.Alert) alertEvent {
	return alertEvent{
		ID:         a.ID,
		DetectedAt: a.DetectedAt,
		SrcIP:      a.SrcIP,
		Score:      a.Score,
		Threshold:  a.Threshold,
		AttackType: a.AttackType.Label(),
	}
}

// NATSNotifier publishes each alert as JSON on a subject.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
}

func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url, nats.Name("ids-dashboard"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	system.Info("Connected to NATS server at %s", url)
	return &NATSNotifier{nc: nc, subject: subject}, nil
}

func (n *NATSNotifier) NotifyAttacks(_ context.Context, alerts []models.Alert) error {
	for _, a := range alerts {
		data, err := json.Marshal(newAlertEvent(a))
		if err != nil {
			return err
		}
		if err := n.nc.Publish(n.subject, data); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
	}
	return nil
}

// Close drains and closes the NATS connection.
func (n *NATSNotifier) Close() error {
	if n.nc == nil {
		return nil
	}
	return n.nc.Drain()
}

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes each alert to a topic keyed by source IP.
type KafkaNotifier struct {
	writer messageWriter
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.LeastBytes{},
		},
	}
}

func (k *KafkaNotifier) NotifyAttacks(ctx context.Context, alerts []models.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		data, err := json.Marshal(newAlertEvent(a))
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.SrcIP),
			Value: data,
			Time:  a.DetectedAt,
		})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// LogNotifier writes each alert to the structured log.
type LogNotifier struct{}

func (LogNotifier) NotifyAttacks(_ context.Context, alerts []models.Alert) error {
	for _, a := range alerts {
		system.Logger().Info("new attack alert",
			zap.String("id", a.ID),
			zap.String("src_ip", a.SrcIP),
			zap.String("attack_type", string(a.AttackType.Label())),
			zap.Float64("score", a.Score))
	}
	return nil
}

// MultiNotifier fans out to every notifier and joins their errors.
type MultiNotifier []AlertNotifier

func (m MultiNotifier) NotifyAttacks(ctx context.Context, alerts []models.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAttacks(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
