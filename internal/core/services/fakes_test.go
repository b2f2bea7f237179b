package services

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ranking"
)

// uid fabrique des UUID lisibles et valides pour les fixtures
func uid(n int) string {
	return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
}

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func at(h float64) time.Time {
	return epoch.Add(time.Duration(h * float64(time.Hour)))
}

// --- ContentStore en mémoire ---

type fakeStore struct {
	mu sync.Mutex

	items   []*domain.ContentItem
	counts  map[domain.ItemRef]domain.EngagementCounts
	states  map[string]map[domain.ItemRef]domain.EngagementState // viewer -> état
	prefs   map[string]domain.Preferences
	users   []domain.UserProfile
	deleted map[domain.ItemRef]bool // supprimés entre listing et comptage

	// block : chaque appel attend l'annulation du contexte (simulation de panne)
	block bool
	err   error

	calls      atomic.Int64
	countCalls map[domain.ContentType]int
	maxBatch   int
	stateCalls atomic.Int64
	filterSeen []ports.CandidateFilter
}

func newFakeStore(items ...*domain.ContentItem) *fakeStore {
	return &fakeStore{
		items:      items,
		counts:     map[domain.ItemRef]domain.EngagementCounts{},
		states:     map[string]map[domain.ItemRef]domain.EngagementState{},
		prefs:      map[string]domain.Preferences{},
		deleted:    map[domain.ItemRef]bool{},
		countCalls: map[domain.ContentType]int{},
	}
}

func (f *fakeStore) add(items ...*domain.ContentItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
}

func (f *fakeStore) setCounts(item *domain.ContentItem, c domain.EngagementCounts) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[item.Ref()] = c
}

func (f *fakeStore) enter(ctx context.Context) error {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.err
}

func (f *fakeStore) FetchCandidates(ctx context.Context, t domain.ContentType, filter ports.CandidateFilter) ([]*domain.ContentItem, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filterSeen = append(f.filterSeen, filter)

	var out []*domain.ContentItem
	for _, item := range f.items {
		if item.Type != t {
			continue
		}
		if len(filter.Authors) > 0 && !slices.Contains(filter.Authors, item.AuthorID) {
			continue
		}
		// Pas de filtre sur les brouillons ici : le service doit les écarter lui-même
		if posted := item.PostedAt(); posted.Before(filter.Since) || posted.After(filter.Until) {
			continue
		}
		// Copie : le service ne doit pas dépendre de l'identité des pointeurs
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostedAt().After(out[j].PostedAt()) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) BatchEngagementCounts(ctx context.Context, t domain.ContentType, ids []string) (map[string]domain.EngagementCounts, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countCalls[t]++
	f.maxBatch = max(f.maxBatch, len(ids))

	out := make(map[string]domain.EngagementCounts, len(ids))
	for _, id := range ids {
		ref := domain.ItemRef{Type: t, ID: id}
		if f.deleted[ref] {
			continue
		}
		out[id] = f.counts[ref]
	}
	return out, nil
}

func (f *fakeStore) BatchViewerState(ctx context.Context, viewerID string, t domain.ContentType, ids []string) (map[string]domain.EngagementState, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.stateCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]domain.EngagementState, len(ids))
	for _, id := range ids {
		if s, ok := f.states[viewerID][domain.ItemRef{Type: t, ID: id}]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeStore) ViewerPreferences(ctx context.Context, viewerID string) (domain.Preferences, error) {
	if err := f.enter(ctx); err != nil {
		return domain.Preferences{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefs[viewerID], nil
}

func (f *fakeStore) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]domain.UserProfile, error) {
	if err := f.enter(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.UserProfile
	for _, u := range f.users {
		if !u.LastActiveAt.Before(since) {
			out = append(out, u)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- FollowGraph en mémoire ---

type fakeGraph struct {
	follows map[string][]string
	mutual  map[string]int
	err     error

	calls       atomic.Int64
	mutualCalls atomic.Int64
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{follows: map[string][]string{}, mutual: map[string]int{}}
}

func (g *fakeGraph) FollowSet(ctx context.Context, viewerID string) ([]string, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return g.follows[viewerID], nil
}

func (g *fakeGraph) MutualFollowCounts(ctx context.Context, viewerID string, candidateIDs []string) (map[string]int, error) {
	g.calls.Add(1)
	g.mutualCalls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[string]int, len(candidateIDs))
	for _, id := range candidateIDs {
		if n, ok := g.mutual[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

// --- Curation / tombstones en mémoire ---

type fakeCuration struct {
	mu     sync.Mutex
	boosts map[domain.ItemRef]float64
	err    error
	loads  atomic.Int64

	// afterRead s'exécute une fois la lecture faite, avant le retour à l'appelant
	afterRead func()
}

func newFakeCuration() *fakeCuration {
	return &fakeCuration{boosts: map[domain.ItemRef]float64{}}
}

func (c *fakeCuration) ActiveBoosts(ctx context.Context) (map[domain.ItemRef]float64, error) {
	c.loads.Add(1)
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	out := make(map[domain.ItemRef]float64, len(c.boosts))
	for k, v := range c.boosts {
		out[k] = v
	}
	hook := c.afterRead
	c.afterRead = nil
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (c *fakeCuration) SetBoost(ctx context.Context, ref domain.ItemRef, m float64, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boosts[ref] = m
	return nil
}

func (c *fakeCuration) ClearBoost(ctx context.Context, ref domain.ItemRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.boosts, ref)
	return nil
}

type fakeTombstones struct {
	dead map[domain.ItemRef]bool
	err  error
}

func (t *fakeTombstones) AddTombstone(ctx context.Context, ref domain.ItemRef, deletedAt time.Time) error {
	t.dead[ref] = true
	return nil
}

func (t *fakeTombstones) Tombstones(ctx context.Context, refs []domain.ItemRef) (map[domain.ItemRef]bool, error) {
	if t.err != nil {
		return nil, t.err
	}
	out := map[domain.ItemRef]bool{}
	for _, r := range refs {
		if t.dead[r] {
			out[r] = true
		}
	}
	return out, nil
}

// --- Fixtures ---

func post(n int, author string, created time.Time) *domain.ContentItem {
	return &domain.ContentItem{
		Type: domain.TypePost, ID: uid(n), AuthorID: author, CreatedAt: created,
		Payload: &domain.PostPayload{Body: fmt.Sprintf("post %d", n)},
	}
}

func project(n int, author string, created time.Time) *domain.ContentItem {
	return &domain.ContentItem{
		Type: domain.TypeProject, ID: uid(n), AuthorID: author, CreatedAt: created,
		Payload: &domain.ProjectPayload{
			Title: fmt.Sprintf("project %d", n), Tagline: "tagline", ImageURLs: []string{"https://img/" + uid(n)},
			PublishedAt: created,
		},
	}
}

// draft : projet jamais publié
func draft(n int, author string, created time.Time) *domain.ContentItem {
	item := project(n, author, created)
	item.Payload.(*domain.ProjectPayload).PublishedAt = time.Time{}
	return item
}

func publishedProject(n int, author string, created, published time.Time) *domain.ContentItem {
	item := project(n, author, created)
	item.Payload.(*domain.ProjectPayload).PublishedAt = published
	return item
}

func repost(n int, author string, created time.Time, original *domain.ContentItem) *domain.ContentItem {
	return &domain.ContentItem{
		Type: domain.TypeRepost, ID: uid(n), AuthorID: author, CreatedAt: created,
		Payload: &domain.RepostPayload{
			Original:         original.Ref(),
			OriginalAuthorID: original.AuthorID,
			OriginalPostedAt: original.PostedAt(),
		},
	}
}

func gig(n int, author string, created time.Time, status domain.GigStatus) *domain.ContentItem {
	return &domain.ContentItem{
		Type: domain.TypeGig, ID: uid(n), AuthorID: author, CreatedAt: created,
		Payload: &domain.GigPayload{Title: "gig", BudgetCents: 10000, Status: status},
	}
}

type testEnv struct {
	store      *fakeStore
	graph      *fakeGraph
	curation   *fakeCuration
	tombstones *fakeTombstones
	feed       *FeedService
	recs       *RecommendationService
	now        time.Time
}

func newTestEnv(now time.Time, items ...*domain.ContentItem) *testEnv {
	env := &testEnv{
		store:      newFakeStore(items...),
		graph:      newFakeGraph(),
		curation:   newFakeCuration(),
		tombstones: &fakeTombstones{dead: map[domain.ItemRef]bool{}},
		now:        now,
	}
	clock := func() time.Time { return env.now }

	scorer := ranking.NewScorer(ranking.DefaultWeights())
	boosts := NewBoostLoader(env.curation, time.Minute)
	boosts.now = clock

	cursors := NewCursorCodec([]byte("test-secret-0123456789"), 6*time.Hour)
	cursors.now = clock

	cfg := DefaultFeedConfig()
	cfg.ForYouWindow = 30 * 24 * time.Hour
	env.feed = NewFeedService(env.store, env.graph, env.tombstones, boosts, scorer, cursors, cfg)
	env.feed.now = clock

	env.recs = NewRecommendationService(env.store, env.graph, env.tombstones, boosts, scorer, DefaultRecommendationConfig())
	env.recs.now = clock
	return env
}

func pageIDs(page *domain.FeedPage) []string {
	ids := make([]string, len(page.Items))
	for i, it := range page.Items {
		ids[i] = it.Item.ID
	}
	return ids
}
