package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProvider hands SMS requests to the gateway consumer through a topic.
type KafkaProvider struct {
	writer *kafka.Writer
}

func NewKafkaProvider(brokers []string, topic string) *KafkaProvider {
	return &KafkaProvider{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaProvider) Send(ctx context.Context, recipient, message string) error {
	body, err := json.Marshal(map[string]string{
		"event":     "sms.requested",
		"recipient": recipient,
		"message":   message,
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(recipient), Value: body})
}

func (p *KafkaProvider) Close() error {
	return p.writer.Close()
}

// ParseBrokers splits "host1:9092,host2:9092".
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
