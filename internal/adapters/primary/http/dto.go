package http

import (
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// DTO internes : le domaine ne porte pas de tags JSON

type feedPageDTO struct {
	Items      []feedItemDTO `json:"items"`
	NextCursor *string       `json:"next_cursor"`
	HasMore    bool          `json:"has_more"`
}

type viewerStateDTO struct {
	Liked      bool `json:"liked"`
	Bookmarked bool `json:"bookmarked"`
	Reposted   bool `json:"reposted"`
}

type countsDTO struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Reposts  int64 `json:"reposts"`
}

type feedItemDTO struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	AuthorID  string         `json:"author_id"`
	CreatedAt time.Time      `json:"created_at"`
	Score     float64        `json:"score"`
	Curated   bool           `json:"curated"`
	Counts    countsDTO      `json:"counts"`
	Viewer    viewerStateDTO `json:"viewer"`

	// Une seule variante renseignée, selon Type
	Post    *postDTO    `json:"post,omitempty"`
	Project *projectDTO `json:"project,omitempty"`
	Repost  *repostDTO  `json:"repost,omitempty"`
	Gig     *gigDTO     `json:"gig,omitempty"`
	BotPost *botPostDTO `json:"bot_post,omitempty"`
}

type postDTO struct {
	Body      string   `json:"body"`
	ImageURLs []string `json:"image_urls"`
}

type projectDTO struct {
	Title       string     `json:"title"`
	Tagline     string     `json:"tagline"`
	ImageURLs   []string   `json:"image_urls"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

type repostDTO struct {
	OriginalType     string `json:"original_type"`
	OriginalID       string `json:"original_id"`
	OriginalAuthorID string `json:"original_author_id,omitempty"`
	Quote            string `json:"quote,omitempty"`
}

type gigDTO struct {
	Title       string `json:"title"`
	BudgetCents int64  `json:"budget_cents"`
	Status      string `json:"status"`
}

type botPostDTO struct {
	BotHandle string            `json:"bot_handle"`
	Template  string            `json:"template"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type userSummaryDTO struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	DisplayName   string  `json:"display_name"`
	AvatarURL     string  `json:"avatar_url,omitempty"`
	MutualFollows int     `json:"mutual_follows"`
	Score         float64 `json:"score"`
}

type projectSummaryDTO struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	Tagline     string    `json:"tagline"`
	ImageURL    string    `json:"image_url,omitempty"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	CreatedAt   time.Time `json:"created_at"`
	PublishedAt time.Time `json:"published_at"`
	Score       float64   `json:"score"`
	Liked       bool      `json:"liked"`
	Bookmarked  bool      `json:"bookmarked"`
}

type listDTO[T any] struct {
	Items []T `json:"items"`
}

type errorBody struct {
	Error errorDTO `json:"error"`
}

type errorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- Mapping Domain -> DTO ---

func toFeedPageDTO(page *domain.FeedPage) feedPageDTO {
	out := feedPageDTO{
		Items:   make([]feedItemDTO, 0, len(page.Items)),
		HasMore: page.HasMore,
	}
	if page.NextCursor != "" {
		next := page.NextCursor
		out.NextCursor = &next
	}
	for _, it := range page.Items {
		if it.Item == nil {
			continue
		}
		out.Items = append(out.Items, toFeedItemDTO(it))
	}
	return out
}

func toFeedItemDTO(it domain.RankedFeedItem) feedItemDTO {
	item := it.Item
	dto := feedItemDTO{
		Type:      string(item.Type),
		ID:        item.ID,
		AuthorID:  item.AuthorID,
		CreatedAt: item.CreatedAt,
		Score:     it.Score,
		Curated:   it.Curated,
		Counts: countsDTO{
			Likes:    it.Counts.Likes,
			Comments: it.Counts.Comments,
			Reposts:  it.Counts.Reposts,
		},
		Viewer: viewerStateDTO{
			Liked:      it.Viewer.Liked,
			Bookmarked: it.Viewer.Bookmarked,
			Reposted:   it.Viewer.Reposted,
		},
	}

	switch p := item.Payload.(type) {
	case *domain.PostPayload:
		dto.Post = &postDTO{Body: p.Body, ImageURLs: nonNil(p.ImageURLs)}
	case *domain.ProjectPayload:
		pr := &projectDTO{Title: p.Title, Tagline: p.Tagline, ImageURLs: nonNil(p.ImageURLs)}
		if !p.PublishedAt.IsZero() {
			published := p.PublishedAt
			pr.PublishedAt = &published
		}
		dto.Project = pr
	case *domain.RepostPayload:
		dto.Repost = &repostDTO{
			OriginalType:     string(p.Original.Type),
			OriginalID:       p.Original.ID,
			OriginalAuthorID: p.OriginalAuthorID,
			Quote:            p.Quote,
		}
	case *domain.GigPayload:
		dto.Gig = &gigDTO{Title: p.Title, BudgetCents: p.BudgetCents, Status: string(p.Status)}
	case *domain.BotPostPayload:
		dto.BotPost = &botPostDTO{BotHandle: p.BotHandle, Template: p.Template, Metadata: p.Metadata}
	case nil:
	}
	return dto
}

func toUserSummaryDTOs(users []domain.UserSummary) []userSummaryDTO {
	out := make([]userSummaryDTO, len(users))
	for i, u := range users {
		out[i] = userSummaryDTO{
			ID:            u.ID,
			Username:      u.Username,
			DisplayName:   u.DisplayName,
			AvatarURL:     u.AvatarURL,
			MutualFollows: u.MutualFollows,
			Score:         u.Score,
		}
	}
	return out
}

func toProjectSummaryDTOs(projects []domain.ProjectSummary) []projectSummaryDTO {
	out := make([]projectSummaryDTO, len(projects))
	for i, p := range projects {
		out[i] = projectSummaryDTO{
			ID:          p.ID,
			AuthorID:    p.AuthorID,
			Title:       p.Title,
			Tagline:     p.Tagline,
			ImageURL:    p.ImageURL,
			Likes:       p.Likes,
			Comments:    p.Comments,
			CreatedAt:   p.CreatedAt,
			PublishedAt: p.PublishedAt,
			Score:       p.Score,
			Liked:       p.Liked,
			Bookmarked:  p.Bookmarked,
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
