package ranking

import (
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// Key est la clé de tri complète d'un item. Elle est totale : deux items distincts
// n'ont jamais la même clé, ce qui rend la pagination par curseur déterministe.
type Key struct {
	Score    float64
	PostedAt time.Time // ContentItem.PostedAt
	Type     domain.ContentType
	ID       string
}

func KeyOf(item *domain.ContentItem, score float64) Key {
	return Key{Score: score, PostedAt: item.PostedAt(), Type: item.Type, ID: item.ID}
}

// Ordering : Before(a, b) == true si a doit apparaître avant b
type Ordering func(a, b Key) bool

// ByScore : score desc, puis date de publication desc, puis type, puis id asc (feed "pour toi", tendances)
func ByScore(a, b Key) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return byRecencyThenIdentity(a, b)
}

// ByRecency : date de publication desc, puis score desc (engagement léger), puis type, puis id asc
func ByRecency(a, b Key) bool {
	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.After(b.PostedAt)
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return byIdentity(a, b)
}

func byRecencyThenIdentity(a, b Key) bool {
	if !a.PostedAt.Equal(b.PostedAt) {
		return a.PostedAt.After(b.PostedAt)
	}
	return byIdentity(a, b)
}

func byIdentity(a, b Key) bool {
	if a.Type != b.Type {
		ra, rb := typeRank(a.Type), typeRank(b.Type)
		if ra != rb {
			return ra < rb
		}
		return a.Type < b.Type
	}
	return a.ID < b.ID
}

func typeRank(t domain.ContentType) int {
	for i, ct := range domain.AllContentTypes {
		if ct == t {
			return i
		}
	}
	return len(domain.AllContentTypes)
}
