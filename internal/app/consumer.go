package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/reconcile"
	"go.uber.org/zap"
)

const reconcileTimeout = 15 * time.Second

// Reconciler applies canonical events to ledger and payroll state.
type Reconciler interface {
	Reconcile(ctx context.Context, event domain.CanonicalWebhookEvent) reconcile.Outcome
}

// SettlementConsumer feeds queued canonical events to the matcher. Every message is
// acknowledged: failures are already reported through the alert channel, and requeueing
// would only replay them.
type SettlementConsumer struct {
	reconciler Reconciler
	log        *zap.Logger
}

func NewSettlementConsumer(reconciler Reconciler, log *zap.Logger) *SettlementConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementConsumer{reconciler: reconciler, log: log.With(zap.String("component", "settlement_consumer"))}
}

func (c *SettlementConsumer) HandleMessage(body []byte) bool {
	var event domain.CanonicalWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.Error("failed to unmarshal canonical event; dropping", zap.Error(err))
		return true
	}
	if event.Type == "" {
		c.log.Error("canonical event missing type; dropping", zap.ByteString("body", body))
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	outcome := c.reconciler.Reconcile(ctx, event)
	c.log.Debug("canonical event processed",
		zap.String("delivery_id", event.DeliveryID),
		zap.String("outcome", string(outcome.Kind)),
	)
	return true
}
