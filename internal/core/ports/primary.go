package ports

import (
	"context"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// --- DRIVING (Ce que le service expose) ---

type FeedService interface {
	// GetForYouFeed : feed personnalisé multi-signaux (anonyme autorisé)
	GetForYouFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error)

	// GetFollowingFeed : chronologique, auteurs suivis uniquement. Anonyme = page vide.
	GetFollowingFeed(ctx context.Context, req domain.FeedRequest) (*domain.FeedPage, error)
}

type RecommendationService interface {
	GetSuggestedUsers(ctx context.Context, viewerID string, limit int, suggestionCtx domain.SuggestionContext) ([]domain.UserSummary, error)
	GetTrendingProjects(ctx context.Context, viewerID string, limit int) ([]domain.ProjectSummary, error)
}
