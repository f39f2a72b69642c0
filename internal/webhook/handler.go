/**
 * @description
 * HTTP entry point for vendor webhooks. The handler authenticates the raw body,
 * maps it to a canonical event and hands it to the processing pipeline.
 *
 * Key features:
 * - Security: signature and timestamp failures are the only synchronous rejection (401).
 * - Routing: unknown event types are acknowledged and ignored; malformed known events
 *   raise an operator alert and are acknowledged.
 * - Dedupe: vendor delivery ids are remembered so retries skip the pipeline.
 */
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/transfa/settlement-service/internal/alert"
	"github.com/transfa/settlement-service/internal/domain"
	"github.com/transfa/settlement-service/internal/metrics"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Dispatcher enqueues a canonical event for reconciliation.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *domain.CanonicalWebhookEvent) error
}

// Authenticator verifies a request against its already-read body.
type Authenticator interface {
	Verify(ctx context.Context, r *http.Request, body []byte) error
}

// Vendor bundles what the handler needs for one webhook source.
type Vendor struct {
	Auth   Authenticator
	Mapper Mapper
}

type Handler struct {
	vendors    map[string]Vendor
	dispatcher Dispatcher
	deduper    Deduper
	alerter    alert.Alerter
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewHandler builds the webhook handler. deduper may be nil.
func NewHandler(vendors map[string]Vendor, dispatcher Dispatcher, deduper Deduper, alerter alert.Alerter, log *zap.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		vendors:    vendors,
		dispatcher: dispatcher,
		deduper:    deduper,
		alerter:    alerter,
		log:        log.With(zap.String("component", "webhook_handler")),
		metrics:    m,
	}
}

func ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// ServeHTTP expects the vendor name in the {vendor} route parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vendorName := strings.ToLower(chi.URLParam(r, "vendor"))
	log := h.log.With(zap.String("vendor", vendorName), zap.String("request_id", middleware.GetReqID(r.Context())))

	vendor, ok := h.vendors[vendorName]
	if !ok {
		h.metrics.WebhookDelivery(vendorName, "unknown_vendor")
		http.Error(w, "Unknown webhook source", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn("cannot read webhook body", zap.Error(err))
		h.metrics.WebhookDelivery(vendorName, "unreadable")
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := vendor.Auth.Verify(ctx, r, body); err != nil {
		if domain.KindOf(err) == domain.KindConfiguration {
			log.Error("webhook verification misconfigured", zap.Error(err))
		} else {
			log.Warn("webhook signature rejected", zap.Error(err))
		}
		h.metrics.WebhookDelivery(vendorName, "rejected")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := vendor.Mapper.Map(body)
	switch {
	case errors.Is(err, ErrUnrecognizedEvent):
		log.Info("unhandled webhook event type", zap.Error(err))
		h.metrics.WebhookDelivery(vendorName, "ignored")
		ack(w)
		return
	case err != nil:
		log.Warn("malformed webhook event", zap.Error(err))
		h.alerter.Alert(ctx, domain.AlertMalformedWebhook, vendorName+": "+err.Error()+": "+string(body))
		h.metrics.WebhookDelivery(vendorName, "malformed")
		ack(w)
		return
	}

	log = log.With(zap.String("event_type", string(event.Type)), zap.String("delivery_id", event.DeliveryID),
		zap.String("correlation_key", event.CorrelationKey))

	if h.deduper != nil && event.DeliveryID != "" {
		seen, err := h.deduper.MarkSeen(ctx, vendorName, event.DeliveryID)
		if err != nil {
			// Dedupe is advisory; the matcher absorbs replays.
			log.Warn("delivery dedupe unavailable", zap.Error(err))
		} else if seen {
			log.Info("duplicate delivery ignored")
			h.metrics.WebhookDelivery(vendorName, "duplicate")
			ack(w)
			return
		}
	}

	if err := h.dispatcher.Dispatch(ctx, event); err != nil {
		log.Error("failed to enqueue webhook event", zap.Error(err))
		if h.deduper != nil && event.DeliveryID != "" {
			if forgetErr := h.deduper.Forget(context.WithoutCancel(ctx), vendorName, event.DeliveryID); forgetErr != nil {
				log.Warn("failed to clear dedupe marker", zap.Error(forgetErr))
			}
		}
		h.metrics.WebhookDelivery(vendorName, "enqueue_failed")
		http.Error(w, "Internal server error during event processing", http.StatusInternalServerError)
		return
	}

	log.Info("webhook event enqueued")
	h.metrics.WebhookDelivery(vendorName, "accepted")
	ack(w)
}
