package domain

import "time"

type ContentType string

const (
	TypePost    ContentType = "post"
	TypeProject ContentType = "project"
	TypeRepost  ContentType = "repost"
	TypeGig     ContentType = "gig"
	TypeBotPost ContentType = "bot_post"
)

// AllContentTypes est l'ordre canonique des types (utilisé pour les fan-out et les tie-breaks)
var AllContentTypes = []ContentType{TypePost, TypeProject, TypeRepost, TypeGig, TypeBotPost}

func (t ContentType) Valid() bool {
	switch t {
	case TypePost, TypeProject, TypeRepost, TypeGig, TypeBotPost:
		return true
	}
	return false
}

// ItemRef identifie un contenu tous types confondus (les IDs ne sont uniques que par table)
type ItemRef struct {
	Type ContentType
	ID   string
}

func (r ItemRef) String() string {
	return string(r.Type) + ":" + r.ID
}

type EngagementCounts struct {
	Likes       int64
	Comments    int64
	Reposts     int64
	Impressions int64
}

// Clamped remet à zéro les compteurs négatifs (données corrompues, décréments concurrents)
func (c EngagementCounts) Clamped() EngagementCounts {
	return EngagementCounts{
		Likes:       max(c.Likes, 0),
		Comments:    max(c.Comments, 0),
		Reposts:     max(c.Reposts, 0),
		Impressions: max(c.Impressions, 0),
	}
}

// Total est l'engagement brut, sans pondération
func (c EngagementCounts) Total() int64 {
	c = c.Clamped()
	return c.Likes + c.Comments + c.Reposts
}

// ContentItem est l'en-tête commun à tous les contenus du feed.
// Le Payload porte la variante (union fermée, voir Payload).
type ContentItem struct {
	Type      ContentType
	ID        string
	AuthorID  string
	CreatedAt time.Time
	Counts    EngagementCounts

	// Tags utilisés pour l'affinité (outils IA / stacks techniques)
	ToolIDs  []string
	StackIDs []string

	Payload Payload
}

func (c *ContentItem) Ref() ItemRef {
	return ItemRef{Type: c.Type, ID: c.ID}
}

// PostedAt est l'instant où l'item entre dans les feeds : la publication pour un projet,
// la création pour le reste. Fenêtres, âge et ordre chronologique se basent dessus.
func (c *ContentItem) PostedAt() time.Time {
	if p, ok := c.Payload.(*ProjectPayload); ok && !p.PublishedAt.IsZero() {
		return p.PublishedAt
	}
	return c.CreatedAt
}

// Published : faux pour un brouillon de projet (jamais publié)
func (c *ContentItem) Published() bool {
	if p, ok := c.Payload.(*ProjectPayload); ok {
		return !p.PublishedAt.IsZero()
	}
	return true
}

// CanonicalRef renvoie la référence de l'original pour un repost, sinon l'item lui-même.
// Deux items avec la même CanonicalRef occupent la même "place" dans un feed.
func (c *ContentItem) CanonicalRef() ItemRef {
	if rp, ok := c.Payload.(*RepostPayload); ok && rp.Original.ID != "" {
		return rp.Original
	}
	return c.Ref()
}

// --- VARIANTES ---

// Payload est fermé : seules les variantes de ce package l'implémentent.
type Payload interface {
	contentType() ContentType
}

type PostPayload struct {
	Body      string
	ImageURLs []string
}

type ProjectPayload struct {
	Title       string
	Tagline     string
	ImageURLs   []string
	PublishedAt time.Time
}

type RepostPayload struct {
	Original         ItemRef
	OriginalAuthorID string
	OriginalPostedAt time.Time // PostedAt de l'original
	Quote            string
}

type GigStatus string

const (
	GigOpen   GigStatus = "open"
	GigClosed GigStatus = "closed"
)

type GigPayload struct {
	Title       string
	BudgetCents int64
	Status      GigStatus
}

type BotPostPayload struct {
	BotHandle string
	Template  string
	Metadata  map[string]string
}

func (*PostPayload) contentType() ContentType    { return TypePost }
func (*ProjectPayload) contentType() ContentType { return TypeProject }
func (*RepostPayload) contentType() ContentType  { return TypeRepost }
func (*GigPayload) contentType() ContentType     { return TypeGig }
func (*BotPostPayload) contentType() ContentType { return TypeBotPost }

// PayloadType renvoie le type porté par la variante ("" si pas de payload)
func PayloadType(p Payload) ContentType {
	if p == nil {
		return ""
	}
	return p.contentType()
}

// Consistent vérifie que le Type de l'en-tête correspond à la variante
func (c *ContentItem) Consistent() bool {
	return c.Type.Valid() && (c.Payload == nil || PayloadType(c.Payload) == c.Type)
}
