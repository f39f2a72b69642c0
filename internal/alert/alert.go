/**
 * @description
 * Operator alert channel. Alerting is fire-and-forget: emitting never blocks the
 * caller and never returns an error; delivery failures are logged.
 *
 * @dependencies
 * - pkg/rabbitmq: publishes alerts to the alert exchange for the paging collaborator.
 * - go.uber.org/zap: structured logging of every alert and of delivery failures.
 */
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Alerter delivers a structured {key, message} notification to operators.
type Alerter interface {
	Alert(ctx context.Context, key, message string)
}

// LogAlerter writes alerts to the log only. Used when no broker is configured.
type LogAlerter struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewLogAlerter(log *zap.Logger, m *metrics.Metrics) *LogAlerter {
	return &LogAlerter{log: log.With(zap.String("component", "alerter")), metrics: m}
}

func (a *LogAlerter) Alert(ctx context.Context, key, message string) {
	a.metrics.AlertEmitted(key)
	a.log.Warn("operator alert", zap.String("alert_key", key), zap.String("alert_message", message))
}

// BrokerAlerter publishes alerts asynchronously to a RabbitMQ exchange.
type BrokerAlerter struct {
	publisher rabbitmq.Publisher
	exchange  string
	log       *zap.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	now       func() time.Time
}

func NewBrokerAlerter(publisher rabbitmq.Publisher, exchange string, log *zap.Logger, m *metrics.Metrics) *BrokerAlerter {
	return &BrokerAlerter{
		publisher: publisher,
		exchange:  exchange,
		log:       log.With(zap.String("component", "alerter")),
		metrics:   m,
		now:       time.Now,
	}
}

func (a *BrokerAlerter) Alert(ctx context.Context, key, message string) {
	a.metrics.AlertEmitted(key)
	payload := domain.Alert{Key: key, Message: message, OccurredAt: a.now().UTC()}
	a.log.Warn("operator alert", zap.String("alert_key", key), zap.String("alert_message", message))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()
		if err := a.publisher.Publish(pubCtx, a.exchange, "alert."+key, payload); err != nil {
			a.log.Error("alert delivery failed", zap.String("alert_key", key), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight deliveries finish. Called during shutdown.
func (a *BrokerAlerter) Wait() {
	a.wg.Wait()
}

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (r *Recorder) Alert(ctx context.Context, key, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, domain.Alert{Key: key, Message: message, OccurredAt: time.Now().UTC()})
}

// Alerts returns a copy of everything recorded so far.
func (r *Recorder) Alerts() []domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Alert(nil), r.alerts...)
}

// Multi fans an alert out to several alerters.
type Multi []Alerter

func (m Multi) Alert(ctx context.Context, key, message string) {
	for _, a := range m {
		a.Alert(ctx, key, message)
	}
}
