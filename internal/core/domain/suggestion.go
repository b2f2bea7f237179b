package domain

import "time"

// UserProfile est la vue "candidat" d'un utilisateur pour les suggestions
type UserProfile struct {
	ID            string
	Username      string
	DisplayName   string
	AvatarURL     string
	ToolIDs       []string
	StackIDs      []string
	FollowerCount int64
	LastActiveAt  time.Time
}

type UserSummary struct {
	ID            string
	Username      string
	DisplayName   string
	AvatarURL     string
	MutualFollows int
	Score         float64
}

type ProjectSummary struct {
	ID          string
	AuthorID    string
	Title       string
	Tagline     string
	ImageURL    string
	Likes       int64
	Comments    int64
	CreatedAt   time.Time
	PublishedAt time.Time
	Score       float64
	Liked       bool
	Bookmarked  bool
}

type SuggestionResult struct {
	Users    []UserSummary
	Projects []ProjectSummary
}

// SuggestionContext adapte K et le filtrage, jamais la formule de score
type SuggestionContext string

const (
	ContextSidebar    SuggestionContext = "sidebar"
	ContextOnboarding SuggestionContext = "onboarding"
	ContextDefault    SuggestionContext = "default"
)

// SuggestionProfile : paramètres dérivés du contexte d'affichage
type SuggestionProfile struct {
	DefaultLimit int
	MaxLimit     int
	ActiveWindow time.Duration
}

func ProfileFor(ctx SuggestionContext) SuggestionProfile {
	switch ctx {
	case ContextSidebar:
		return SuggestionProfile{DefaultLimit: 3, MaxLimit: 5, ActiveWindow: 14 * 24 * time.Hour}
	case ContextOnboarding:
		return SuggestionProfile{DefaultLimit: 10, MaxLimit: 25, ActiveWindow: 90 * 24 * time.Hour}
	default:
		return SuggestionProfile{DefaultLimit: 5, MaxLimit: 20, ActiveWindow: 30 * 24 * time.Hour}
	}
}
