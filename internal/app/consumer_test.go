package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/reconcile"
	"github.com/transfa/settlement-service/internal/worker"
	"go.uber.org/zap"
)

type recordingReconciler struct {
	mu      sync.Mutex
	events  []domain.CanonicalWebhookEvent
	outcome reconcile.Outcome
	done    chan struct{}
}

func (r *recordingReconciler) Reconcile(ctx context.Context, event domain.CanonicalWebhookEvent) reconcile.Outcome {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return r.outcome
}

func TestSettlementConsumer_AlwaysAcks(t *testing.T) {
	rec := &recordingReconciler{outcome: reconcile.Outcome{Kind: reconcile.OutcomeFailed}}
	c := NewSettlementConsumer(rec, zap.NewNop())

	body, err := json.Marshal(domain.CanonicalWebhookEvent{Type: domain.EventSettlementSucceeded, CorrelationKey: "trf_1"})
	require.NoError(t, err)

	assert.True(t, c.HandleMessage(body))
	assert.True(t, c.HandleMessage([]byte("not json")))
	assert.True(t, c.HandleMessage([]byte(`{"correlation_key":"x"}`)))

	require.Len(t, rec.events, 1)
	assert.Equal(t, "trf_1", rec.events[0].CorrelationKey)
}

type capturingPublisher struct {
	exchange, routingKey string
	body                 interface{}
}

func (p *capturingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.exchange, p.routingKey, p.body = exchange, routingKey, body
	return nil
}

func (p *capturingPublisher) Close() {}

func TestQueueDispatcher_PublishesCanonicalEvent(t *testing.T) {
	pub := &capturingPublisher{}
	event := &domain.CanonicalWebhookEvent{Type: domain.EventSettlementFailed}

	require.NoError(t, NewQueueDispatcher(pub, "settlement.events").Dispatch(context.Background(), event))
	assert.Equal(t, "settlement.events", pub.exchange)
	assert.Equal(t, RoutingKeyCanonicalEvent, pub.routingKey)
	assert.Same(t, event, pub.body)
}

func TestInlineDispatcher_ReconcilesOnPool(t *testing.T) {
	pool := worker.NewPool(2, 8, zap.NewNop(), nil)
	defer pool.Stop()
	rec := &recordingReconciler{done: make(chan struct{}, 1)}

	event := &domain.CanonicalWebhookEvent{Type: domain.EventSettlementSucceeded, CorrelationKey: "trf_2"}
	require.NoError(t, NewInlineDispatcher(pool, rec).Dispatch(context.Background(), event))
	event.CorrelationKey = "mutated after dispatch"

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not reconciled")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "trf_2", rec.events[0].CorrelationKey)
}
