package app

import (
	"context"
	"fmt"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/worker"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
)

// RoutingKeyCanonicalEvent is the routing key canonical webhook events travel under.
const RoutingKeyCanonicalEvent = "settlement.webhook.received"

// QueueDispatcher hands canonical events to RabbitMQ for the SettlementConsumer.
type QueueDispatcher struct {
	publisher rabbitmq.Publisher
	exchange  string
}

func NewQueueDispatcher(publisher rabbitmq.Publisher, exchange string) *QueueDispatcher {
	return &QueueDispatcher{publisher: publisher, exchange: exchange}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, event *domain.CanonicalWebhookEvent) error {
	if err := d.publisher.Publish(ctx, d.exchange, RoutingKeyCanonicalEvent, event); err != nil {
		return fmt.Errorf("publish canonical event: %w", err)
	}
	return nil
}

// InlineDispatcher reconciles on the in-process worker pool. Used when no broker is
// configured. Events still queued when the process dies are lost.
type InlineDispatcher struct {
	pool       *worker.Pool
	reconciler Reconciler
}

func NewInlineDispatcher(pool *worker.Pool, reconciler Reconciler) *InlineDispatcher {
	return &InlineDispatcher{pool: pool, reconciler: reconciler}
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, event *domain.CanonicalWebhookEvent) error {
	ev := *event
	return d.pool.Submit(ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
		defer cancel()
		d.reconciler.Reconcile(ctx, ev)
	})
}
