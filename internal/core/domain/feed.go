package domain

import "time"

type FeedType string

const (
	FeedForYou    FeedType = "for_you"
	FeedFollowing FeedType = "following"
)

const (
	DefaultFeedLimit = 20
	MaxFeedLimit     = 100
)

// FeedRequest encapsule les critères de lecture d'une page
type FeedRequest struct {
	ViewerID string // vide = anonyme
	Cursor   string // opaque, vide = première page
	Limit    int
}

// ClampLimit ramène une limite client dans [1, max] (défaut si <= 0)
func ClampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// SignalSet regroupe tout ce dont le Scorer a besoin pour un item
type SignalSet struct {
	Likes       int64
	Comments    int64
	Reposts     int64
	Impressions int64
	AgeSeconds  float64

	AuthorFollowed bool
	ToolOverlap    int
	StackOverlap   int

	IsCurated          bool
	CurationMultiplier float64
}

// ScoredItem est éphémère : calculé par requête, jamais persisté
type ScoredItem struct {
	Item    *ContentItem
	Score   float64
	Signals SignalSet
}

type RankedFeedItem struct {
	Item    *ContentItem
	Score   float64
	Curated bool
	Counts  EngagementCounts // compteurs lus au moment du scoring
	Viewer  EngagementState
}

type FeedPage struct {
	Items      []RankedFeedItem
	NextCursor string // vide = pas de page suivante
	HasMore    bool
	AsOf       time.Time
}

func EmptyPage() *FeedPage {
	return &FeedPage{Items: []RankedFeedItem{}}
}
