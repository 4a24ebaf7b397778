package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/vantagetrading/approvald/internal/models"
)

// Handler consumes one raw inbound message. The gateway's Dispatch satisfies
// it.
type Handler interface {
	Dispatch(ctx context.Context, topic string, payload []byte) error
}

// ConsumerConfig configures the inbound topic readers.
type ConsumerConfig struct {
	Brokers []string
	GroupID string

	// Topics overrides the default inbound topic set when non-empty.
	Topics []string
}

// DefaultInboundTopics is the full inbound surface.
func DefaultInboundTopics() []string {
	return []string{
		models.TopicOperatorDecision,
		models.TopicManualRequest,
		models.TopicPolicySnapshot,
		models.TopicGuardDirective,
		models.TopicBoundsResult,
		models.TopicEmergencyStop,
		models.TopicRevokeRequest,
	}
}

// Consumer runs one kafka reader per inbound topic. Partitioning by approval
// key preserves arrival order for a key; no ordering holds across keys.
type Consumer struct {
	cfg     ConsumerConfig
	handler Handler
	wg      sync.WaitGroup
}

// NewConsumer builds a consumer over the given handler.
func NewConsumer(cfg ConsumerConfig, handler Handler) *Consumer {
	if len(cfg.Topics) == 0 {
		cfg.Topics = DefaultInboundTopics()
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "approvald"
	}
	return &Consumer{cfg: cfg, handler: handler}
}

// Run starts one goroutine per topic and blocks until ctx is cancelled and
// every reader has drained.
func (c *Consumer) Run(ctx context.Context) error {
	log.Printf("[bus] consuming %d topics as group %s", len(c.cfg.Topics), c.cfg.GroupID)
	for _, topic := range c.cfg.Topics {
		c.wg.Add(1)
		go c.consumeTopic(ctx, topic)
	}
	c.wg.Wait()
	log.Printf("[bus] consumer stopped")
	return ctx.Err()
}

const (
	initialReadBackoff = time.Second
	maxReadBackoff     = 30 * time.Second
)

// nextReadBackoff doubles the read retry delay up to maxReadBackoff so a dead
// broker does not spin the reader loop.
func nextReadBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxReadBackoff {
		return maxReadBackoff
	}
	return d
}

func (c *Consumer) consumeTopic(ctx context.Context, topic string) {
	defer c.wg.Done()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		GroupID:        c.cfg.GroupID,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		CommitInterval: time.Second,
	})
	defer r.Close()

	backoff := initialReadBackoff
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[bus] read %s: %v", topic, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = nextReadBackoff(backoff)
			continue
		}
		backoff = initialReadBackoff
		if err := c.handler.Dispatch(ctx, topic, msg.Value); err != nil {
			// Decisions are the failure surface; a handler error here means
			// the event itself could not be accepted. Log and move on.
			log.Printf("[bus] handle %s: %v", topic, err)
		}
	}
}
