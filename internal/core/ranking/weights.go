package ranking

import (
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// Weights centralise toutes les constantes de ranking.
// Les défauts sont des valeurs de départ à valider avec le produit, pas une vérité figée.
type Weights struct {
	// RecencyHalfLife : âge auquel le score d'un item est divisé par deux.
	RecencyHalfLife time.Duration

	Like    float64
	Comment float64
	Repost  float64

	// ImpressionFloor est le dénominateur minimal du taux d'engagement, pour ne pas
	// sur-récompenser un item vu 3 fois et liké 2 fois.
	ImpressionFloor float64
	// RateBlend est la part du taux d'engagement dans le terme d'engagement (0..1),
	// le reste étant l'engagement brut amorti (log).
	RateBlend float64
	RateScale float64

	AffinityPerMatch float64
	FollowBoost      float64
	Base             float64

	MinCuration float64
	MaxCuration float64

	TypeWeights map[domain.ContentType]float64

	// Trending
	VelocityWeight      float64
	MinVelocityAgeHours float64

	// Suggestions d'utilisateurs
	UserMutual     float64
	UserOverlap    float64
	UserRecency    float64
	UserPopularity float64
	UserHalfLife   time.Duration
}

func DefaultWeights() Weights {
	return Weights{
		RecencyHalfLife: 36 * time.Hour,

		Like:    1,
		Comment: 3,
		Repost:  5,

		ImpressionFloor: 50,
		RateBlend:       0.5,
		RateScale:       20,

		AffinityPerMatch: 1.5,
		FollowBoost:      4,
		Base:             1,

		MinCuration: 1,
		MaxCuration: 5,

		TypeWeights: map[domain.ContentType]float64{
			domain.TypePost:    1.0,
			domain.TypeProject: 1.15,
			domain.TypeRepost:  0.85,
			domain.TypeGig:     0.9,
			domain.TypeBotPost: 0.6,
		},

		VelocityWeight:      2,
		MinVelocityAgeHours: 1,

		UserMutual:     3,
		UserOverlap:    1.5,
		UserRecency:    2,
		UserPopularity: 0.5,
		UserHalfLife:   72 * time.Hour,
	}
}

// sanitized complète les champs manquants avec les défauts et borne les valeurs absurdes
func (w Weights) sanitized() Weights {
	d := DefaultWeights()
	if w.RecencyHalfLife <= 0 {
		w.RecencyHalfLife = d.RecencyHalfLife
	}
	if w.UserHalfLife <= 0 {
		w.UserHalfLife = d.UserHalfLife
	}
	if w.ImpressionFloor < 1 {
		w.ImpressionFloor = 1
	}
	w.RateBlend = clamp(w.RateBlend, 0, 1)
	if w.MinCuration < 1 {
		w.MinCuration = 1
	}
	if w.MaxCuration < w.MinCuration {
		w.MaxCuration = w.MinCuration
	}
	if w.MinVelocityAgeHours <= 0 {
		w.MinVelocityAgeHours = d.MinVelocityAgeHours
	}
	if w.TypeWeights == nil {
		w.TypeWeights = d.TypeWeights
	}
	return w
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
