package ports

import (
	"context"
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// --- DRIVEN (Ce dont le service a besoin) ---

// CandidateFilter borne la sélection de candidats d'un type.
// Les bornes portent sur ContentItem.PostedAt (published_at pour un projet).
type CandidateFilter struct {
	Authors []string  // vide = tous les auteurs
	Since   time.Time // inclusif
	Until   time.Time // inclusif (snapshot as_of, ou curseur)
	Limit   int       // les plus récents d'abord
}

// ContentStore est la source de vérité des contenus (Postgres).
// Les items supprimés (soft ou hard) ne sont jamais renvoyés.
type ContentStore interface {
	FetchCandidates(ctx context.Context, contentType domain.ContentType, filter CandidateFilter) ([]*domain.ContentItem, error)

	// Batch : une requête par type, jamais une par item.
	// Les IDs absents du résultat ont été supprimés entre-temps.
	BatchEngagementCounts(ctx context.Context, contentType domain.ContentType, ids []string) (map[string]domain.EngagementCounts, error)
	BatchViewerState(ctx context.Context, viewerID string, contentType domain.ContentType, ids []string) (map[string]domain.EngagementState, error)

	ViewerPreferences(ctx context.Context, viewerID string) (domain.Preferences, error)

	// ActiveUsers : candidats pour les suggestions (actifs depuis 'since')
	ActiveUsers(ctx context.Context, since time.Time, limit int) ([]domain.UserProfile, error)
}

// FollowGraph est le graphe social (Neo4j)
type FollowGraph interface {
	// FollowSet renvoie les IDs des auteurs suivis par le viewer
	FollowSet(ctx context.Context, viewerID string) ([]string, error)

	// MutualFollowCounts : pour chaque candidat, nombre de comptes suivis par le viewer qui suivent aussi le candidat
	MutualFollowCounts(ctx context.Context, viewerID string, candidateIDs []string) (map[string]int, error)
}

// CurationStore : boosts administrateur (Redis, alimenté par événements)
type CurationStore interface {
	ActiveBoosts(ctx context.Context) (map[domain.ItemRef]float64, error)
	SetBoost(ctx context.Context, ref domain.ItemRef, multiplier float64, expiresAt time.Time) error
	ClearBoost(ctx context.Context, ref domain.ItemRef) error
}

// TombstoneStore : contenus modérés/supprimés pas encore propagés partout
type TombstoneStore interface {
	AddTombstone(ctx context.Context, ref domain.ItemRef, deletedAt time.Time) error
	Tombstones(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]bool, error)
}
