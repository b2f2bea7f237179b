// Package ranking contient le scoring pur (aucune I/O) des items du feed,
// des projets en tendance et des suggestions d'utilisateurs.
package ranking

import (
	"math"
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

// scoreQuantum : deux scores plus proches que ça sont considérés égals,
// le tie-break (date, type, id) prend alors le relais.
const scoreQuantum = 1e9

type Scorer struct {
	w Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{w: w.sanitized()}
}

func (s *Scorer) Weights() Weights {
	return s.w
}

// Score calcule le score "pour toi" d'un item.
// L'âge est déjà dans les signaux (calculé par rapport au snapshot de la requête).
//
//	score = typeWeight * (base + engagement + affinité) * 0.5^(âge/halfLife)
//
// puis multiplié par le boost de curation si l'item est mis en avant.
func (s *Scorer) Score(t domain.ContentType, sig domain.SignalSet) float64 {
	sig = clampSignals(sig)

	affinity := s.w.AffinityPerMatch * float64(sig.ToolOverlap+sig.StackOverlap)
	if sig.AuthorFollowed {
		affinity += s.w.FollowBoost
	}

	raw := s.typeWeight(t) * (s.w.Base + s.engagementTerm(sig) + affinity)
	score := raw * s.Decay(sig.AgeSeconds)

	if sig.IsCurated {
		score *= s.CurationMultiplier(sig.CurationMultiplier)
	}
	return quantize(score)
}

// TrendingScore : même terme d'engagement que Score, sans affinité ni suivi,
// plus un terme de vélocité (engagement par heure depuis la publication).
func (s *Scorer) TrendingScore(sig domain.SignalSet) float64 {
	sig = clampSignals(sig)

	ageHours := math.Max(sig.AgeSeconds/3600, s.w.MinVelocityAgeHours)
	velocity := s.w.VelocityWeight * s.weightedEngagement(sig) / ageHours

	score := s.engagementTerm(sig) + velocity
	if sig.IsCurated {
		score *= s.CurationMultiplier(sig.CurationMultiplier)
	}
	return quantize(score)
}

// FollowingTiebreak : engagement léger utilisé seulement pour départager deux items du même instant
func (s *Scorer) FollowingTiebreak(sig domain.SignalSet) float64 {
	return quantize(s.weightedEngagement(clampSignals(sig)))
}

// Decay renvoie 0.5^(âge/halfLife). Un âge négatif (horloge en avance) compte pour 0.
func (s *Scorer) Decay(ageSeconds float64) float64 {
	if ageSeconds <= 0 || math.IsNaN(ageSeconds) {
		return 1
	}
	return math.Exp2(-ageSeconds / s.w.RecencyHalfLife.Seconds())
}

// CurationMultiplier borne le multiplicateur admin dans [MinCuration, MaxCuration]
func (s *Scorer) CurationMultiplier(m float64) float64 {
	if math.IsNaN(m) || m == 0 {
		return s.w.MinCuration
	}
	return clamp(m, s.w.MinCuration, s.w.MaxCuration)
}

func (s *Scorer) weightedEngagement(sig domain.SignalSet) float64 {
	return float64(sig.Likes)*s.w.Like + float64(sig.Comments)*s.w.Comment + float64(sig.Reposts)*s.w.Repost
}

// engagementTerm mélange l'engagement brut (amorti en log) et le taux d'engagement
// (engagement / max(impressions, plancher)) pour contrer le biais de popularité.
func (s *Scorer) engagementTerm(sig domain.SignalSet) float64 {
	eng := s.weightedEngagement(sig)
	rate := eng / math.Max(float64(sig.Impressions), s.w.ImpressionFloor)
	return (1-s.w.RateBlend)*math.Log1p(eng) + s.w.RateBlend*s.w.RateScale*rate
}

func (s *Scorer) typeWeight(t domain.ContentType) float64 {
	switch t {
	case domain.TypePost, domain.TypeProject, domain.TypeRepost, domain.TypeGig, domain.TypeBotPost:
		if w, ok := s.w.TypeWeights[t]; ok && w > 0 {
			return w
		}
		return 1
	default:
		return 1
	}
}

// UserSignals : signaux d'un candidat pour "who to follow"
type UserSignals struct {
	MutualFollows   int
	ToolOverlap     int
	StackOverlap    int
	InactiveSeconds float64
	Followers       int64
}

// UserScore : somme pondérée, la formule ne dépend pas du contexte d'affichage
func (s *Scorer) UserScore(u UserSignals) float64 {
	mutual := float64(max(u.MutualFollows, 0))
	overlap := float64(max(u.ToolOverlap, 0) + max(u.StackOverlap, 0))
	inactive := math.Max(u.InactiveSeconds, 0)
	recency := math.Exp2(-inactive / s.w.UserHalfLife.Seconds())
	popularity := math.Log1p(float64(max(u.Followers, 0)))

	score := s.w.UserMutual*mutual +
		s.w.UserOverlap*overlap +
		s.w.UserRecency*recency +
		s.w.UserPopularity*popularity
	return quantize(score)
}

func clampSignals(sig domain.SignalSet) domain.SignalSet {
	sig.Likes = max(sig.Likes, 0)
	sig.Comments = max(sig.Comments, 0)
	sig.Reposts = max(sig.Reposts, 0)
	sig.Impressions = max(sig.Impressions, 0)
	sig.ToolOverlap = max(sig.ToolOverlap, 0)
	sig.StackOverlap = max(sig.StackOverlap, 0)
	if math.IsNaN(sig.AgeSeconds) || sig.AgeSeconds < 0 {
		sig.AgeSeconds = 0
	}
	return sig
}

func quantize(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return math.Round(x*scoreQuantum) / scoreQuantum
}

// AgeSeconds : âge d'un item au snapshot 'asOf'
func AgeSeconds(createdAt, asOf time.Time) float64 {
	return asOf.Sub(createdAt).Seconds()
}
