package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patchgraph/ingen/internal/engine"
	"github.com/patchgraph/ingen/internal/errors"
	"github.com/patchgraph/ingen/internal/logger"
	"github.com/patchgraph/ingen/internal/observability/metrics"
)

const subscriberBuffer = 256

// NotificationSource is implemented by engine.Broadcaster
type NotificationSource interface {
	Subscribe(buffer int) (<-chan engine.Notification, func())
}

// Publisher forwards engine notifications to the broker as JSON, one
// topic per notification type. Notifications arriving while the broker is
// unreachable are dropped and counted.
type Publisher struct {
	client  Client
	source  NotificationSource
	topic   string
	retry   time.Duration
	metrics *metrics.MQTTMetrics
	log     logger.Logger

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher returns a publisher reading from source. m may be nil.
func NewPublisher(client Client, source NotificationSource, config Config, m *metrics.MQTTMetrics, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.Global().Module(component)
	}
	retry := config.ReconnectCooldown
	if retry <= 0 {
		retry = DefaultConfig().ReconnectCooldown
	}
	return &Publisher{
		client:  client,
		source:  source,
		topic:   strings.TrimSuffix(config.Topic, "/"),
		retry:   retry,
		metrics: m,
		log:     log,
	}
}

// Topic returns the topic a notification is published to
func (p *Publisher) Topic(n engine.Notification) string {
	return p.topic + "/" + n.Type
}

// Run publishes until ctx is done, then disconnects
func (p *Publisher) Run(ctx context.Context) error {
	notes, cancel := p.source.Subscribe(subscriberBuffer)
	defer cancel()
	defer p.client.Disconnect()

	connected := make(chan struct{})
	go p.connectLoop(ctx, connected)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("mqtt publisher stopped",
				logger.Uint64("published", p.published.Load()),
				logger.Uint64("dropped", p.dropped.Load()))
			<-connected
			return nil
		case n, ok := <-notes:
			if !ok {
				<-connected
				return nil
			}
			p.publish(ctx, n)
		}
	}
}

// connectLoop retries Connect until it succeeds or ctx is done. Later
// connection losses are handled by the client.
func (p *Publisher) connectLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := p.client.Connect(ctx)
		if err == nil {
			return
		}
		p.log.Warn("mqtt connect failed", logger.Error(err), logger.Duration("retry_in", p.retry))
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retry):
		}
	}
}

func (p *Publisher) publish(ctx context.Context, n engine.Notification) {
	if !p.client.IsConnected() {
		p.drop(metrics.DropDisconnected)
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		p.drop(metrics.DropEncode)
		p.log.Error("failed to encode notification",
			logger.String("type", n.Type),
			logger.Error(errors.New(err).Component(component).Category(errors.CategoryBroadcast).Build()))
		return
	}
	if err := p.client.Publish(ctx, p.Topic(n), payload); err != nil {
		p.drop(metrics.DropPublish)
		p.log.Debug("publish failed", logger.String("type", n.Type), logger.Error(err))
		return
	}
	p.published.Add(1)
	p.metrics.RecordPublished(n.Type)
}

func (p *Publisher) drop(reason string) {
	p.dropped.Add(1)
	p.metrics.RecordDropped(reason)
}

// Published returns the number of notifications delivered to the broker
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Dropped returns the number of notifications not delivered
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }
