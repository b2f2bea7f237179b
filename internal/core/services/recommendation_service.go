package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
	"github.com/snowdamiz/vibeslop-sub003/internal/metrics"
)

const (
	DefaultTrendingLimit = 10
	MaxTrendingLimit     = 50
)

type RecommendationConfig struct {
	TrendingWindow        time.Duration
	MaxTrendingCandidates int
	MaxUserCandidates     int
	StoreTimeout          time.Duration
}

func DefaultRecommendationConfig() RecommendationConfig {
	return RecommendationConfig{
		TrendingWindow:        7 * 24 * time.Hour,
		MaxTrendingCandidates: 500,
		MaxUserCandidates:     500,
		StoreTimeout:          2 * time.Second,
	}
}

type RecommendationService struct {
	store      ports.ContentStore
	graph      ports.FollowGraph
	tombstones ports.TombstoneStore
	aggregator *Aggregator
	scorer     *ranking.Scorer
	cfg        RecommendationConfig
	now        func() time.Time
}

func NewRecommendationService(
	store ports.ContentStore,
	graph ports.FollowGraph,
	tombstones ports.TombstoneStore,
	boosts *BoostLoader,
	scorer *ranking.Scorer,
	cfg RecommendationConfig,
) *RecommendationService {
	return &RecommendationService{
		store:      store,
		graph:      graph,
		tombstones: tombstones,
		aggregator: NewAggregator(store, boosts),
		scorer:     scorer,
		cfg:        cfg,
		now:        time.Now,
	}
}

type scoredUser struct {
	profile domain.UserProfile
	mutual  int
	score   float64
}

// GetSuggestedUsers : "who to follow". Exclut le viewer et les comptes déjà suivis.
// Le contexte d'affichage change K et la fenêtre d'activité, jamais la formule.
func (s *RecommendationService) GetSuggestedUsers(ctx context.Context, viewerID string, limit int, suggestionCtx domain.SuggestionContext) (users []domain.UserSummary, err error) {
	ctx, span := tracer.Start(ctx, "recommend.users", trace.WithAttributes(
		attribute.String("context", string(suggestionCtx)),
		attribute.Bool("authenticated", viewerID != ""),
	))
	defer span.End()
	defer observeRecommendation("users", &err, span)

	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	profile := domain.ProfileFor(suggestionCtx)
	limit = domain.ClampLimit(limit, profile.DefaultLimit, profile.MaxLimit)
	now := s.now().UTC()

	viewer := domain.AnonymousViewer()
	if viewerID != "" {
		viewer, err = loadViewerContext(ctx, s.store, s.graph, viewerID)
		if err != nil {
			return nil, err
		}
	}

	profiles, err := s.store.ActiveUsers(ctx, now.Add(-profile.ActiveWindow), s.cfg.MaxUserCandidates)
	if err != nil {
		return nil, storeError(ctx, fmt.Errorf("active users: %w", err))
	}

	candidates := make([]domain.UserProfile, 0, len(profiles))
	seen := make(map[string]struct{}, len(profiles))
	for _, p := range profiles {
		if p.ID == "" || p.ID == viewerID || viewer.Follows(p.ID) {
			continue
		}
		if p.LastActiveAt.Before(now.Add(-profile.ActiveWindow)) {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return []domain.UserSummary{}, nil
	}

	var mutual map[string]int
	if viewer.Authenticated() && len(viewer.Following) > 0 {
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		mutual, err = s.graph.MutualFollowCounts(ctx, viewerID, ids)
		if err != nil {
			return nil, storeError(ctx, fmt.Errorf("mutual follows: %w", err))
		}
	}

	scored := make([]scoredUser, 0, len(candidates))
	for _, c := range candidates {
		sig := ranking.UserSignals{
			MutualFollows:   mutual[c.ID],
			ToolOverlap:     domain.Overlap(c.ToolIDs, viewer.ToolIDs),
			StackOverlap:    domain.Overlap(c.StackIDs, viewer.StackIDs),
			InactiveSeconds: now.Sub(c.LastActiveAt).Seconds(),
			Followers:       c.FollowerCount,
		}
		scored = append(scored, scoredUser{profile: c, mutual: sig.MutualFollows, score: s.scorer.UserScore(sig)})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.profile.LastActiveAt.Equal(b.profile.LastActiveAt) {
			return a.profile.LastActiveAt.After(b.profile.LastActiveAt)
		}
		return a.profile.ID < b.profile.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	users = make([]domain.UserSummary, len(scored))
	for i, su := range scored {
		users[i] = domain.UserSummary{
			ID:            su.profile.ID,
			Username:      su.profile.Username,
			DisplayName:   su.profile.DisplayName,
			AvatarURL:     su.profile.AvatarURL,
			MutualFollows: su.mutual,
			Score:         su.score,
		}
	}
	return users, nil
}

// GetTrendingProjects : classement global (non personnalisé) des projets récents.
// Le viewer ne sert qu'à renseigner Liked / Bookmarked.
func (s *RecommendationService) GetTrendingProjects(ctx context.Context, viewerID string, limit int) (projects []domain.ProjectSummary, err error) {
	ctx, span := tracer.Start(ctx, "recommend.trending")
	defer span.End()
	defer observeRecommendation("trending_projects", &err, span)

	ctx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	limit = domain.ClampLimit(limit, DefaultTrendingLimit, MaxTrendingLimit)
	now := s.now().UTC()

	items, err := s.store.FetchCandidates(ctx, domain.TypeProject, ports.CandidateFilter{
		Since: now.Add(-s.cfg.TrendingWindow),
		Until: now,
		Limit: s.cfg.MaxTrendingCandidates,
	})
	if err != nil {
		return nil, storeError(ctx, fmt.Errorf("fetch trending candidates: %w", err))
	}

	dead := lookupTombstones(ctx, s.tombstones, items)
	live := items[:0]
	for _, item := range items {
		if item == nil || item.Type != domain.TypeProject || !eligible(item, now) || dead[item.Ref()] {
			continue
		}
		live = append(live, item)
	}

	agg, err := s.aggregator.Aggregate(ctx, live, domain.ViewerContext{ViewerID: viewerID}, AggregateOptions{
		AsOf:     now,
		Curation: true,
	})
	if err != nil {
		return nil, storeError(ctx, err)
	}

	entries := make([]rankedEntry, 0, len(live))
	for _, item := range live {
		sig, ok := agg.Signals[item.Ref()]
		if !ok {
			continue
		}
		entries = append(entries, rankedEntry{item: item, key: ranking.KeyOf(item, s.scorer.TrendingScore(sig)), sig: sig})
	}
	sort.Slice(entries, func(i, j int) bool {
		return ranking.ByScore(entries[i].key, entries[j].key)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	projects = make([]domain.ProjectSummary, len(entries))
	for i, e := range entries {
		state := agg.Viewer[e.item.Ref()]
		summary := domain.ProjectSummary{
			ID:          e.item.ID,
			AuthorID:    e.item.AuthorID,
			Likes:       e.sig.Likes,
			Comments:    e.sig.Comments,
			CreatedAt:   e.item.CreatedAt,
			PublishedAt: e.item.PostedAt(),
			Score:       e.key.Score,
			Liked:       state.Liked,
			Bookmarked:  state.Bookmarked,
		}
		if p, ok := e.item.Payload.(*domain.ProjectPayload); ok {
			summary.Title = p.Title
			summary.Tagline = p.Tagline
			if len(p.ImageURLs) > 0 {
				summary.ImageURL = p.ImageURLs[0]
			}
		}
		projects[i] = summary
	}
	return projects, nil
}

func observeRecommendation(kind string, err *error, span trace.Span) {
	outcome := "ok"
	if *err != nil {
		outcome = errorOutcome(*err)
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	metrics.RecommendationRequests.WithLabelValues(kind, outcome).Inc()
}
