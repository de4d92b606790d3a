package refresh

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"surfacesync/internal/broker"
	"surfacesync/pkg/models"
)

// BrokerNotifier publishes redraw events for host platforms listening on a
// topic.
type BrokerNotifier struct {
	producer broker.Producer
	topic    string
}

func NewBrokerNotifier(producer broker.Producer, topic string) *BrokerNotifier {
	return &BrokerNotifier{producer: producer, topic: topic}
}

func (n *BrokerNotifier) Name() string { return "broker" }

func (n *BrokerNotifier) Notify(ctx context.Context, event models.RedrawEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode redraw event: %w", err)
	}
	return n.producer.Publish(ctx, n.topic, broker.Message{
		Key:   []byte(strconv.FormatUint(event.Generation, 10)),
		Value: body,
	})
}
