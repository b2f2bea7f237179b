package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/metrics"
)

const (
	SubjectContentDeleted  = "content.deleted"
	SubjectCurationBoosted = "curation.boosted"
	SubjectCurationCleared = "curation.cleared"

	// Plusieurs réplicas : un seul traite chaque message
	QueueGroup = "ranking-service"
)

// BoostCache est invalidé après chaque changement de curation
type BoostCache interface {
	Invalidate()
}

// MultiplierClamp ramène un multiplicateur admin dans les bornes du scorer
type MultiplierClamp func(m float64) float64

type EventHandler struct {
	curation   ports.CurationStore
	tombstones ports.TombstoneStore
	cache      BoostCache
	clamp      MultiplierClamp
	timeout    time.Duration
}

func NewEventHandler(curation ports.CurationStore, tombstones ports.TombstoneStore, cache BoostCache, clamp MultiplierClamp) *EventHandler {
	return &EventHandler{
		curation:   curation,
		tombstones: tombstones,
		cache:      cache,
		clamp:      clamp,
		timeout:    5 * time.Second,
	}
}

// Subscribe branche les trois sujets sur la connexion
func (h *EventHandler) Subscribe(nc *nats.Conn) ([]*nats.Subscription, error) {
	handlers := map[string]nats.MsgHandler{
		SubjectContentDeleted:  h.HandleContentDeleted,
		SubjectCurationBoosted: h.HandleCurationBoosted,
		SubjectCurationCleared: h.HandleCurationCleared,
	}
	subs := make([]*nats.Subscription, 0, len(handlers))
	for subject, handler := range handlers {
		sub, err := nc.QueueSubscribe(subject, QueueGroup, handler)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

type refEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (e refEvent) ref() (domain.ItemRef, error) {
	t := domain.ContentType(e.Type)
	if !t.Valid() {
		return domain.ItemRef{}, fmt.Errorf("unknown content type %q", e.Type)
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		return domain.ItemRef{}, fmt.Errorf("invalid id %q: %w", e.ID, err)
	}
	return domain.ItemRef{Type: t, ID: e.ID}, nil
}

type contentDeletedEvent struct {
	refEvent
	DeletedAt time.Time `json:"deleted_at"`
}

type curationBoostedEvent struct {
	refEvent
	Multiplier float64   `json:"multiplier"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (h *EventHandler) HandleContentDeleted(msg *nats.Msg) {
	h.process(msg, func(ctx context.Context) error {
		var event contentDeletedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("invalid event format: %w", err)
		}
		ref, err := event.ref()
		if err != nil {
			return err
		}
		slog.Info("📨 Content deleted, adding tombstone", "ref", ref.String())
		return h.tombstones.AddTombstone(ctx, ref, event.DeletedAt)
	})
}

func (h *EventHandler) HandleCurationBoosted(msg *nats.Msg) {
	h.process(msg, func(ctx context.Context) error {
		var event curationBoostedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("invalid event format: %w", err)
		}
		ref, err := event.ref()
		if err != nil {
			return err
		}
		if !event.ExpiresAt.IsZero() && !event.ExpiresAt.After(time.Now()) {
			slog.Debug("Ignoring already expired boost", "ref", ref.String(), "expires_at", event.ExpiresAt)
			return nil
		}
		m := event.Multiplier
		if h.clamp != nil {
			m = h.clamp(m)
		}
		slog.Info("📨 Curation boost", "ref", ref.String(), "multiplier", m, "expires_at", event.ExpiresAt)
		if err := h.curation.SetBoost(ctx, ref, m, event.ExpiresAt); err != nil {
			return err
		}
		h.cache.Invalidate()
		return nil
	})
}

func (h *EventHandler) HandleCurationCleared(msg *nats.Msg) {
	h.process(msg, func(ctx context.Context) error {
		var event refEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return fmt.Errorf("invalid event format: %w", err)
		}
		ref, err := event.ref()
		if err != nil {
			return err
		}
		slog.Info("📨 Curation cleared", "ref", ref.String())
		if err := h.curation.ClearBoost(ctx, ref); err != nil {
			return err
		}
		h.cache.Invalidate()
		return nil
	})
}

// process : extraction du contexte de trace, span consumer, timeout et métriques
func (h *EventHandler) process(msg *nats.Msg, fn func(ctx context.Context) error) {
	ctx := context.Background()
	if msg.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	}

	tracer := otel.Tracer("ranking-service")
	ctx, span := tracer.Start(ctx, "process_"+msg.Subject,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination", msg.Subject)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("❌ Event processing failed", "subject", msg.Subject, "error", err)
		metrics.EventsProcessed.WithLabelValues(msg.Subject, "error").Inc()
		return
	}
	metrics.EventsProcessed.WithLabelValues(msg.Subject, "ok").Inc()
}
