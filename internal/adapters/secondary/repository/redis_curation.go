package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
)

const (
	boostsKey     = "curation:boosts" // HASH  "type:id" -> multiplicateur
	boostsExpKey  = "curation:expiry" // ZSET  "type:id" -> expiration (unix)
	tombstonesKey = "tombstones"      // ZSET  "type:id" -> date de suppression (unix)
)

type RedisCurationRepo struct {
	client    *redis.Client
	retention time.Duration // au-delà, le filtre deleted_at de Postgres suffit
	now       func() time.Time
}

func NewRedisCurationRepo(client *redis.Client) *RedisCurationRepo {
	return &RedisCurationRepo{
		client:    client,
		retention: 7 * 24 * time.Hour,
		now:       time.Now,
	}
}

var (
	_ ports.CurationStore  = (*RedisCurationRepo)(nil)
	_ ports.TombstoneStore = (*RedisCurationRepo)(nil)
)

// Format du membre : "project:0b9e..."
func refMember(ref domain.ItemRef) string {
	return ref.String()
}

func parseRefMember(member string) (domain.ItemRef, bool) {
	t, id, ok := strings.Cut(member, ":")
	if !ok || id == "" || !domain.ContentType(t).Valid() {
		return domain.ItemRef{}, false
	}
	return domain.ItemRef{Type: domain.ContentType(t), ID: id}, true
}

// SetBoost : un expiresAt nul = boost sans échéance
func (r *RedisCurationRepo) SetBoost(ctx context.Context, ref domain.ItemRef, multiplier float64, expiresAt time.Time) error {
	member := refMember(ref)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, boostsKey, member, strconv.FormatFloat(multiplier, 'f', -1, 64))
	if expiresAt.IsZero() {
		pipe.ZRem(ctx, boostsExpKey, member)
	} else {
		pipe.ZAdd(ctx, boostsExpKey, redis.Z{Score: float64(expiresAt.Unix()), Member: member})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set boost %s: %w", member, err)
	}
	return nil
}

func (r *RedisCurationRepo) ClearBoost(ctx context.Context, ref domain.ItemRef) error {
	member := refMember(ref)
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, boostsKey, member)
	pipe.ZRem(ctx, boostsExpKey, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear boost %s: %w", member, err)
	}
	return nil
}

// ActiveBoosts lit le hash et les échéances en un aller-retour,
// puis purge paresseusement les boosts expirés.
func (r *RedisCurationRepo) ActiveBoosts(ctx context.Context) (map[domain.ItemRef]float64, error) {
	pipe := r.client.Pipeline()
	all := pipe.HGetAll(ctx, boostsKey)
	exp := pipe.ZRangeWithScores(ctx, boostsExpKey, 0, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load boosts: %w", err)
	}

	now := float64(r.now().Unix())
	expired := make(map[string]struct{})
	for _, z := range exp.Val() {
		member, ok := z.Member.(string)
		if ok && z.Score <= now {
			expired[member] = struct{}{}
		}
	}

	boosts := make(map[domain.ItemRef]float64, len(all.Val()))
	for member, raw := range all.Val() {
		if _, gone := expired[member]; gone {
			continue
		}
		ref, ok := parseRefMember(member)
		if !ok {
			continue
		}
		m, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		boosts[ref] = m
	}

	if len(expired) > 0 {
		members := make([]string, 0, len(expired))
		for m := range expired {
			members = append(members, m)
		}
		cleanup := r.client.TxPipeline()
		cleanup.HDel(ctx, boostsKey, members...)
		cleanup.ZRemRangeByScore(ctx, boostsExpKey, "-inf", strconv.FormatFloat(now, 'f', 0, 64))
		// Best effort : la lecture reste correcte même si la purge échoue
		_, _ = cleanup.Exec(ctx)
	}
	return boosts, nil
}

// AddTombstone enregistre la suppression et rogne les entrées plus vieilles que la rétention
func (r *RedisCurationRepo) AddTombstone(ctx context.Context, ref domain.ItemRef, deletedAt time.Time) error {
	if deletedAt.IsZero() {
		deletedAt = r.now()
	}
	cutoff := r.now().Add(-r.retention).Unix()

	pipe := r.client.Pipeline()
	pipe.ZAdd(ctx, tombstonesKey, redis.Z{Score: float64(deletedAt.Unix()), Member: refMember(ref)})
	pipe.ZRemRangeByScore(ctx, tombstonesKey, "-inf", "("+strconv.FormatInt(cutoff, 10))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add tombstone %s: %w", ref, err)
	}
	return nil
}

func (r *RedisCurationRepo) Tombstones(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]bool, error) {
	if len(refs) == 0 {
		return map[domain.ItemRef]bool{}, nil
	}
	members := make([]string, len(refs))
	for i, ref := range refs {
		members[i] = refMember(ref)
	}

	scores, err := r.client.ZMScore(ctx, tombstonesKey, members...).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("lookup tombstones: %w", err)
	}

	dead := make(map[domain.ItemRef]bool)
	for i, score := range scores {
		// ZMSCORE renvoie nil (0 côté client) pour un membre absent
		if score > 0 && i < len(refs) {
			dead[refs[i]] = true
		}
	}
	return dead, nil
}
