package services

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
)

// BoostLoader met en cache les boosts actifs quelques secondes.
// Les requêtes concurrentes partagent un seul aller-retour Redis (singleflight).
// Si le store est indisponible, on sert le dernier état connu : la curation
// est un bonus, elle ne doit pas faire tomber le feed.
type BoostLoader struct {
	store   ports.CurationStore
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	cached   map[domain.ItemRef]float64
	loadedAt time.Time
	gen      uint64 // incrémenté par Invalidate
}

func NewBoostLoader(store ports.CurationStore, ttl time.Duration) *BoostLoader {
	return &BoostLoader{
		store:   store,
		ttl:     ttl,
		timeout: time.Second,
		now:     time.Now,
	}
}

// Invalidate force un rechargement au prochain Load (événements curation.*)
func (l *BoostLoader) Invalidate() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.loadedAt = time.Time{}
	l.gen++
	l.mu.Unlock()
}

func (l *BoostLoader) Load(ctx context.Context) (map[domain.ItemRef]float64, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}

	l.mu.RLock()
	cached, loadedAt, gen := l.cached, l.loadedAt, l.gen
	l.mu.RUnlock()
	if cached != nil && l.now().Sub(loadedAt) < l.ttl {
		return cached, nil
	}

	// Une génération par clé : après Invalidate, on ne rejoint pas un chargement déjà parti
	ch := l.group.DoChan("boosts:"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Détaché de l'appelant : une annulation client ne doit pas faire échouer les autres
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()
		return l.store.ActiveBoosts(lctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			slog.Warn("Curation store unavailable, serving stale boosts", "error", res.Err, "stale_entries", len(cached))
			return cached, nil
		}
		boosts, _ := res.Val.(map[domain.ItemRef]float64)
		if boosts == nil {
			boosts = map[domain.ItemRef]float64{}
		}
		l.mu.Lock()
		// Invalidé pendant l'aller-retour : le résultat sert cette requête mais n'est pas mis en cache
		if l.gen == gen {
			l.cached, l.loadedAt = boosts, l.now()
		}
		l.mu.Unlock()
		return boosts, nil
	}
}
