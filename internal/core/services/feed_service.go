package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
	"github.com/snowdamiz/vibeslop-sub003/internal/metrics"
)

var tracer = otel.Tracer("ranking-service")

type FeedConfig struct {
	ForYouWindow         time.Duration
	FollowingWindow      time.Duration
	RepostSuppressWindow time.Duration
	MaxCandidatesPerType int
	StoreTimeout         time.Duration
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		ForYouWindow:         7 * 24 * time.Hour,
		FollowingWindow:      30 * 24 * time.Hour,
		RepostSuppressWindow: 48 * time.Hour,
		MaxCandidatesPerType: 500,
		StoreTimeout:         2 * time.Second,
	}
}

type FeedService struct {
	store      ports.ContentStore
	graph      ports.FollowGraph
	tombstones ports.TombstoneStore
	aggregator *Aggregator
	scorer     *ranking.Scorer
	cursors    *CursorCodec
	cfg        FeedConfig
	now        func() time.Time
}

func NewFeedService(
	store ports.ContentStore,
	graph ports.FollowGraph,
	tombstones ports.TombstoneStore,
	boosts *BoostLoader,
	scorer *ranking.Scorer,
	cursors *CursorCodec,
	cfg FeedConfig,
) *FeedService {
	return &FeedService{
		store:      store,
		graph:      graph,
		tombstones: tombstones,
		aggregator: NewAggregator(store, boosts),
		scorer:     scorer,
		cursors:    cursors,
		cfg:        cfg,
		now:        time.Now,
	}
}

// rankedEntry : item + clé de tri, avant découpage en page
type rankedEntry struct {
	item *domain.ContentItem
	key  ranking.Key
	sig  domain.SignalSet
}

func (s *FeedService) GetForYouFeed(ctx context.Context, req domain.FeedRequest) (page *domain.FeedPage, err error) {
	ctx, span := tracer.Start(ctx, "feed.for_you", trace.WithAttributes(attribute.Bool("authenticated", req.ViewerID != "")))
	defer span.End()
	defer s.observe(domain.FeedForYou, time.Now(), &page, &err, span)

	ctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	limit := domain.ClampLimit(req.Limit, domain.DefaultFeedLimit, domain.MaxFeedLimit)
	cur := s.decodeCursor(req.Cursor, domain.FeedForYou)
	asOf := s.snapshot(cur)

	viewer, err := s.loadViewer(ctx, req.ViewerID)
	if err != nil {
		return nil, err
	}

	// Tri par score : le snapshot fixe l'ensemble de candidats, le watermark ne sert pas ici
	candidates, _, err := s.fetchCandidates(ctx, ports.CandidateFilter{
		Since: asOf.Add(-s.cfg.ForYouWindow),
		Until: asOf,
		Limit: s.cfg.MaxCandidatesPerType,
	})
	if err != nil {
		return nil, err
	}
	candidates = s.filterCandidates(ctx, candidates, asOf)
	metrics.FeedCandidates.WithLabelValues(string(domain.FeedForYou)).Observe(float64(len(candidates)))

	agg, err := s.aggregator.Aggregate(ctx, candidates, viewer, AggregateOptions{
		AsOf:         asOf,
		Personalized: true,
		Curation:     true,
	})
	if err != nil {
		return nil, storeError(ctx, err)
	}

	entries := make([]rankedEntry, 0, len(candidates))
	for _, item := range candidates {
		sig, ok := agg.Signals[item.Ref()]
		if !ok {
			continue
		}
		score := s.scorer.Score(item.Type, sig)
		entries = append(entries, rankedEntry{item: item, key: ranking.KeyOf(item, score), sig: sig})
	}

	page, _, err = s.paginate(domain.FeedForYou, entries, ranking.ByScore, cur, asOf, limit, agg.Viewer, time.Time{})
	return page, err
}

func (s *FeedService) GetFollowingFeed(ctx context.Context, req domain.FeedRequest) (page *domain.FeedPage, err error) {
	// Règle métier : pas de feed "abonnements" pour un anonyme, et aucun appel aux stores
	if req.ViewerID == "" {
		metrics.FeedRequests.WithLabelValues(string(domain.FeedFollowing), "anonymous").Inc()
		return domain.EmptyPage(), nil
	}

	ctx, span := tracer.Start(ctx, "feed.following")
	defer span.End()
	defer s.observe(domain.FeedFollowing, time.Now(), &page, &err, span)

	ctx, cancel := s.withStoreTimeout(ctx)
	defer cancel()

	limit := domain.ClampLimit(req.Limit, domain.DefaultFeedLimit, domain.MaxFeedLimit)
	cur := s.decodeCursor(req.Cursor, domain.FeedFollowing)
	asOf := s.snapshot(cur)

	following, err := s.graph.FollowSet(ctx, req.ViewerID)
	if err != nil {
		return nil, storeError(ctx, fmt.Errorf("follow set: %w", err))
	}
	if len(following) == 0 {
		return &domain.FeedPage{Items: []domain.RankedFeedItem{}, AsOf: asOf}, nil
	}
	viewer := domain.NewViewerContext(req.ViewerID, following, domain.Preferences{})

	for round := 1; ; round++ {
		p, next, ferr := s.followingPage(ctx, viewer, following, cur, asOf, limit)
		if ferr != nil || len(p.Items) > 0 || next == nil || round == maxFollowingRounds {
			return p, ferr
		}
		// Page vide mais fenêtre non épuisée : on reprend sous le watermark
		cur = next
	}
}

// maxFollowingRounds borne les rechargements d'une même requête "abonnements"
const maxFollowingRounds = 4

// followingPage sert une page du feed chronologique. Le score n'existe pas côté SQL :
// le curseur descend donc dans la requête par la date seule (Until inclusif), la clé
// complète départage ensuite les ex aequo.
func (s *FeedService) followingPage(
	ctx context.Context,
	viewer domain.ViewerContext,
	following []string,
	cur *Cursor,
	asOf time.Time,
	limit int,
) (*domain.FeedPage, *Cursor, error) {
	since, until := asOf.Add(-s.cfg.FollowingWindow), asOf
	if cur != nil && cur.Last.PostedAt.Before(until) {
		until = cur.Last.PostedAt
	}

	candidates, watermark, err := s.fetchCandidates(ctx, ports.CandidateFilter{
		Authors: following,
		Since:   since,
		Until:   until,
		Limit:   s.cfg.MaxCandidatesPerType,
	})
	if err != nil {
		return nil, nil, err
	}
	if !watermark.Before(until) {
		// Plus de MaxCandidatesPerType items d'un type au même instant : rien à gagner à recharger
		watermark = time.Time{}
	}
	candidates = s.filterCandidates(ctx, candidates, asOf)
	metrics.FeedCandidates.WithLabelValues(string(domain.FeedFollowing)).Observe(float64(len(candidates)))

	// Pas d'affinité ni de curation : l'utilisateur a choisi de tout voir
	agg, err := s.aggregator.Aggregate(ctx, candidates, viewer, AggregateOptions{AsOf: asOf})
	if err != nil {
		return nil, nil, storeError(ctx, err)
	}

	entries := make([]rankedEntry, 0, len(candidates))
	for _, item := range candidates {
		if !viewer.Follows(item.AuthorID) {
			continue
		}
		// L'original suivi occupe la place du repost, quelle que soit la page où il tombe
		if rp, ok := item.Payload.(*domain.RepostPayload); ok && viewer.Follows(rp.OriginalAuthorID) &&
			!rp.OriginalPostedAt.Before(since) && !rp.OriginalPostedAt.After(asOf) {
			continue
		}
		sig, ok := agg.Signals[item.Ref()]
		if !ok {
			continue
		}
		entries = append(entries, rankedEntry{item: item, key: ranking.KeyOf(item, s.scorer.FollowingTiebreak(sig)), sig: sig})
	}

	return s.paginate(domain.FeedFollowing, entries, ranking.ByRecency, cur, asOf, limit, agg.Viewer, watermark)
}

// paginate trie, déduplique puis applique le curseur comme un filtre
// "strictement après la dernière clé servie" (pas d'offset : stable sous écritures concurrentes).
// Un watermark non nul n'a de sens qu'avec ByRecency : les entrées postées à ce moment
// ou avant ne sont pas servies, la page suivante les recharge.
func (s *FeedService) paginate(
	feed domain.FeedType,
	entries []rankedEntry,
	before ranking.Ordering,
	cur *Cursor,
	asOf time.Time,
	limit int,
	states map[domain.ItemRef]domain.EngagementState,
	watermark time.Time,
) (*domain.FeedPage, *Cursor, error) {
	sort.Slice(entries, func(i, j int) bool {
		return before(entries[i].key, entries[j].key)
	})
	entries = dedupeCanonical(entries)

	start := 0
	if cur != nil {
		start = sort.Search(len(entries), func(i int) bool {
			return before(cur.Last, entries[i].key)
		})
	}
	rest := entries[start:]

	truncated := !watermark.IsZero()
	if truncated {
		rest = rest[:sort.Search(len(rest), func(i int) bool {
			return !rest[i].key.PostedAt.After(watermark)
		})]
	}

	hasMore := truncated || len(rest) > limit
	if len(rest) > limit {
		rest = rest[:limit]
	}

	page := &domain.FeedPage{
		Items:   make([]domain.RankedFeedItem, 0, len(rest)),
		HasMore: hasMore,
		AsOf:    asOf,
	}
	for _, e := range rest {
		page.Items = append(page.Items, domain.RankedFeedItem{
			Item:    e.item,
			Score:   e.key.Score,
			Curated: e.sig.IsCurated,
			Counts: domain.EngagementCounts{
				Likes:       e.sig.Likes,
				Comments:    e.sig.Comments,
				Reposts:     e.sig.Reposts,
				Impressions: e.sig.Impressions,
			},
			Viewer: states[e.item.Ref()],
		})
	}

	if !hasMore {
		return page, nil, nil
	}
	next := &Cursor{Feed: feed, AsOf: asOf, Last: resumeAt(watermark)}
	if len(rest) > 0 {
		next.Last = rest[len(rest)-1].key
	}
	token, err := s.cursors.Encode(*next)
	if err != nil {
		return nil, nil, err
	}
	page.NextCursor = token
	return page, next, nil
}

// resumeAt renvoie une clé placée juste avant tout item posté à t (ordre ByRecency)
func resumeAt(t time.Time) ranking.Key {
	return ranking.Key{Score: math.MaxFloat64, PostedAt: t, Type: domain.TypePost, ID: uuid.Nil.String()}
}

// dedupeCanonical garde, pour chaque original, la première occurrence (la mieux classée).
// entries doit déjà être trié.
func dedupeCanonical(entries []rankedEntry) []rankedEntry {
	seen := make(map[domain.ItemRef]struct{}, len(entries))
	out := entries[:0]
	for _, e := range entries {
		ref := e.item.CanonicalRef()
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, e)
	}
	return out
}

// filterCandidates retire les items inéligibles, tombstonés, et les auto-reposts récents
func (s *FeedService) filterCandidates(ctx context.Context, items []*domain.ContentItem, asOf time.Time) []*domain.ContentItem {
	dead := lookupTombstones(ctx, s.tombstones, items)

	out := items[:0]
	for _, item := range items {
		if !eligible(item, asOf) {
			continue
		}
		if dead[item.Ref()] {
			continue
		}
		if rp, ok := item.Payload.(*domain.RepostPayload); ok {
			if dead[rp.Original] {
				continue
			}
			// Auto-repost d'un contenu encore frais : l'original occupe déjà la place
			if rp.OriginalAuthorID == item.AuthorID && !rp.OriginalPostedAt.IsZero() &&
				asOf.Sub(rp.OriginalPostedAt) <= s.cfg.RepostSuppressWindow {
				continue
			}
		}
		out = append(out, item)
	}
	return out
}

func eligible(item *domain.ContentItem, asOf time.Time) bool {
	if item == nil || !item.Consistent() || !item.Published() || item.PostedAt().After(asOf) {
		return false
	}
	switch p := item.Payload.(type) {
	case *domain.GigPayload:
		return p.Status == domain.GigOpen
	case *domain.PostPayload, *domain.ProjectPayload, *domain.RepostPayload, *domain.BotPostPayload, nil:
		return true
	default:
		return false
	}
}

func lookupTombstones(ctx context.Context, tombstones ports.TombstoneStore, items []*domain.ContentItem) map[domain.ItemRef]bool {
	if tombstones == nil || len(items) == 0 {
		return nil
	}
	refs := make([]domain.ItemRef, 0, len(items))
	for _, item := range items {
		refs = append(refs, item.Ref())
		if rp, ok := item.Payload.(*domain.RepostPayload); ok {
			refs = append(refs, rp.Original)
		}
	}
	dead, err := tombstones.Tombstones(ctx, refs)
	if err != nil {
		// Le store filtre déjà deleted_at : les tombstones ne couvrent que le délai de propagation
		slog.Warn("Tombstone lookup failed, relying on store filtering", "error", err)
		return nil
	}
	return dead
}

// fetchCandidates interroge les cinq types en parallèle, au plus filter.Limit items chacun.
// Le watermark est la date du premier item écarté par la limite (le plus récent sur
// l'ensemble des types) : à cette date et avant, la fenêtre chargée peut être incomplète.
// Zéro quand aucun type n'a atteint la limite.
func (s *FeedService) fetchCandidates(ctx context.Context, filter ports.CandidateFilter) ([]*domain.ContentItem, time.Time, error) {
	perType := filter.Limit
	if perType > 0 {
		filter.Limit = perType + 1
	}
	results := make([][]*domain.ContentItem, len(domain.AllContentTypes))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range domain.AllContentTypes {
		g.Go(func() error {
			items, err := s.store.FetchCandidates(gctx, t, filter)
			if err != nil {
				return fmt.Errorf("fetch %s candidates: %w", t, err)
			}
			results[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, time.Time{}, storeError(ctx, err)
	}

	var (
		all       []*domain.ContentItem
		watermark time.Time
	)
	for _, items := range results {
		if perType > 0 && len(items) > perType {
			// Le store renvoie les plus récents d'abord
			if cut := items[perType].PostedAt(); cut.After(watermark) {
				watermark = cut
			}
			items = items[:perType]
		}
		all = append(all, items...)
	}
	return all, watermark, nil
}

// loadViewer charge follow set et préférences en parallèle (anonyme : rien à charger)
func (s *FeedService) loadViewer(ctx context.Context, viewerID string) (domain.ViewerContext, error) {
	if viewerID == "" {
		return domain.AnonymousViewer(), nil
	}
	return loadViewerContext(ctx, s.store, s.graph, viewerID)
}

func loadViewerContext(ctx context.Context, store ports.ContentStore, graph ports.FollowGraph, viewerID string) (domain.ViewerContext, error) {
	var (
		following []string
		prefs     domain.Preferences
		mu        sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		f, err := graph.FollowSet(gctx, viewerID)
		if err != nil {
			return fmt.Errorf("follow set: %w", err)
		}
		mu.Lock()
		following = f
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		p, err := store.ViewerPreferences(gctx, viewerID)
		if err != nil {
			return fmt.Errorf("viewer preferences: %w", err)
		}
		mu.Lock()
		prefs = p
		mu.Unlock()
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.ViewerContext{}, storeError(ctx, err)
	}
	return domain.NewViewerContext(viewerID, following, prefs), nil
}

// decodeCursor : un curseur invalide est traité comme absent (première page)
func (s *FeedService) decodeCursor(token string, feed domain.FeedType) *Cursor {
	if token == "" {
		return nil
	}
	cur, err := s.cursors.Decode(token, feed)
	if err != nil {
		metrics.InvalidCursors.WithLabelValues(string(feed)).Inc()
		slog.Debug("Ignoring invalid cursor", "feed", feed, "error", err)
		return nil
	}
	return &cur
}

func (s *FeedService) snapshot(cur *Cursor) time.Time {
	if cur != nil {
		return cur.AsOf
	}
	return s.now().UTC()
}

func (s *FeedService) withStoreTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *FeedService) observe(feed domain.FeedType, start time.Time, page **domain.FeedPage, err *error, span trace.Span) {
	metrics.FeedDuration.WithLabelValues(string(feed)).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case *err != nil:
		outcome = errorOutcome(*err)
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	case *page != nil && len((*page).Items) == 0:
		outcome = "empty"
	case *page != nil:
		span.SetAttributes(attribute.Int("items", len((*page).Items)), attribute.Bool("has_more", (*page).HasMore))
	}
	metrics.FeedRequests.WithLabelValues(string(feed), outcome).Inc()
}

// withTimeout borne les appels aux stores, sauf si l'appelant a déjà une deadline plus courte
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// storeError traduit un dépassement de délai en ErrStoreUnavailable.
// Une annulation côté client reste context.Canceled.
func storeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
