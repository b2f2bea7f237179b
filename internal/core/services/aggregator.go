package services

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
)

const BatchSize = 1000 // Taille max des paquets d'IDs envoyés au store (ANY($1))

// Aggregate : sortie du Signal Aggregator pour un lot de candidats
type Aggregate struct {
	Signals map[domain.ItemRef]domain.SignalSet
	Viewer  map[domain.ItemRef]domain.EngagementState
}

type AggregateOptions struct {
	AsOf time.Time
	// Personalized active les signaux d'affinité (follow, tags)
	Personalized bool
	// Curation active la lecture des boosts admin
	Curation bool
}

// Aggregator calcule en une passe tous les signaux d'un lot de candidats.
// Une requête par type et par nature de signal, jamais une par item (pas de N+1).
type Aggregator struct {
	store  ports.ContentStore
	boosts *BoostLoader
}

func NewAggregator(store ports.ContentStore, boosts *BoostLoader) *Aggregator {
	return &Aggregator{store: store, boosts: boosts}
}

func (a *Aggregator) Aggregate(ctx context.Context, items []*domain.ContentItem, viewer domain.ViewerContext, opts AggregateOptions) (*Aggregate, error) {
	ctx, span := tracer.Start(ctx, "signals.aggregate", trace.WithAttributes(
		attribute.Int("items", len(items)),
		attribute.Bool("personalized", opts.Personalized),
	))
	defer span.End()

	byType := groupIDsByType(items)

	var (
		mu     sync.Mutex
		counts = make(map[domain.ItemRef]domain.EngagementCounts, len(items))
		states = make(map[domain.ItemRef]domain.EngagementState)
		boosts map[domain.ItemRef]float64
	)

	// Fan-out : les lectures par type sont indépendantes
	g, gctx := errgroup.WithContext(ctx)

	for _, t := range domain.AllContentTypes {
		ids := byType[t]
		if len(ids) == 0 {
			continue
		}
		g.Go(func() error {
			res, err := a.batchCounts(gctx, t, ids)
			if err != nil {
				return err
			}
			mu.Lock()
			for id, c := range res {
				counts[domain.ItemRef{Type: t, ID: id}] = c
			}
			mu.Unlock()
			return nil
		})

		if viewer.Authenticated() {
			g.Go(func() error {
				res, err := a.batchViewerState(gctx, viewer.ViewerID, t, ids)
				if err != nil {
					return err
				}
				mu.Lock()
				for id, s := range res {
					states[domain.ItemRef{Type: t, ID: id}] = s
				}
				mu.Unlock()
				return nil
			})
		}
	}

	if opts.Curation && a.boosts != nil {
		g.Go(func() error {
			b, err := a.boosts.Load(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			boosts = b
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := &Aggregate{
		Signals: make(map[domain.ItemRef]domain.SignalSet, len(counts)),
		Viewer:  states,
	}

	for _, item := range items {
		ref := item.Ref()
		c, ok := counts[ref]
		if !ok {
			// Supprimé entre le listing et le scoring : on l'ignore
			continue
		}
		c = c.Clamped()

		sig := domain.SignalSet{
			Likes:       c.Likes,
			Comments:    c.Comments,
			Reposts:     c.Reposts,
			Impressions: c.Impressions,
			AgeSeconds:  ranking.AgeSeconds(item.PostedAt(), opts.AsOf),
		}
		if opts.Personalized {
			sig.AuthorFollowed = viewer.Follows(item.AuthorID)
			sig.ToolOverlap = domain.Overlap(item.ToolIDs, viewer.ToolIDs)
			sig.StackOverlap = domain.Overlap(item.StackIDs, viewer.StackIDs)
		}
		if m, ok := boosts[ref]; ok {
			sig.IsCurated = true
			sig.CurationMultiplier = m
		}
		out.Signals[ref] = sig
	}

	span.SetAttributes(attribute.Int("signals", len(out.Signals)))
	return out, nil
}

func (a *Aggregator) batchCounts(ctx context.Context, t domain.ContentType, ids []string) (map[string]domain.EngagementCounts, error) {
	out := make(map[string]domain.EngagementCounts, len(ids))
	for _, chunk := range chunks(ids, BatchSize) {
		res, err := a.store.BatchEngagementCounts(ctx, t, chunk)
		if err != nil {
			return nil, err
		}
		for id, c := range res {
			out[id] = c
		}
	}
	return out, nil
}

func (a *Aggregator) batchViewerState(ctx context.Context, viewerID string, t domain.ContentType, ids []string) (map[string]domain.EngagementState, error) {
	out := make(map[string]domain.EngagementState, len(ids))
	for _, chunk := range chunks(ids, BatchSize) {
		res, err := a.store.BatchViewerState(ctx, viewerID, t, chunk)
		if err != nil {
			return nil, err
		}
		for id, s := range res {
			out[id] = s
		}
	}
	return out, nil
}

func groupIDsByType(items []*domain.ContentItem) map[domain.ContentType][]string {
	byType := make(map[domain.ContentType][]string, len(domain.AllContentTypes))
	seen := make(map[domain.ItemRef]struct{}, len(items))
	for _, item := range items {
		ref := item.Ref()
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		byType[item.Type] = append(byType[item.Type], item.ID)
	}
	return byType
}

// chunks découpe la liste pour ne pas saturer le store (même logique que le fan-out Redis)
func chunks(ids []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[i:end])
	}
	return out
}
