package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
)

func TestAggregator_BatchesPerType(t *testing.T) {
	store := newFakeStore()
	var items []*domain.ContentItem
	for i := range 2500 {
		items = append(items, post(i+1, authorA, at(0)))
	}
	for i := range 3 {
		items = append(items, project(10000+i, authorB, at(0)))
	}
	// Doublon : ne doit pas être demandé deux fois
	items = append(items, items[0])

	agg := NewAggregator(store, nil)
	out, err := agg.Aggregate(context.Background(), items, domain.AnonymousViewer(), AggregateOptions{AsOf: at(1)})
	require.NoError(t, err)

	assert.Len(t, out.Signals, 2503)
	assert.Equal(t, 3, store.countCalls[domain.TypePost], "2500 ids in chunks of 1000")
	assert.Equal(t, 1, store.countCalls[domain.TypeProject])
	assert.LessOrEqual(t, store.maxBatch, BatchSize)
	assert.Zero(t, store.stateCalls.Load(), "anonymous viewer has no per-item state")
}

func TestAggregator_Signals(t *testing.T) {
	store := newFakeStore()
	tagged := post(1, authorA, at(0))
	tagged.ToolIDs = []string{"t1", "t2", "t1"}
	tagged.StackIDs = []string{"go"}
	negative := post(2, authorB, at(0.5))
	gone := post(3, authorB, at(0.5))

	store.setCounts(tagged, domain.EngagementCounts{Likes: 4, Comments: 2, Reposts: 1, Impressions: 90})
	store.setCounts(negative, domain.EngagementCounts{Likes: -3})
	store.deleted[gone.Ref()] = true

	viewerCtx := domain.NewViewerContext(viewer, []string{authorA}, domain.Preferences{ToolIDs: []string{"t1", "t2"}, StackIDs: []string{"go", "rust"}})
	agg := NewAggregator(store, nil)

	out, err := agg.Aggregate(context.Background(), []*domain.ContentItem{tagged, negative, gone}, viewerCtx, AggregateOptions{
		AsOf:         at(2),
		Personalized: true,
	})
	require.NoError(t, err)

	sig := out.Signals[tagged.Ref()]
	assert.Equal(t, int64(4), sig.Likes)
	assert.Equal(t, int64(2), sig.Comments)
	assert.Equal(t, int64(1), sig.Reposts)
	assert.Equal(t, int64(90), sig.Impressions)
	assert.Equal(t, (2 * time.Hour).Seconds(), sig.AgeSeconds)
	assert.True(t, sig.AuthorFollowed)
	assert.Equal(t, 2, sig.ToolOverlap, "duplicates are ignored")
	assert.Equal(t, 1, sig.StackOverlap)

	assert.Equal(t, int64(0), out.Signals[negative.Ref()].Likes, "negative counts are clamped")
	assert.False(t, out.Signals[negative.Ref()].AuthorFollowed)

	_, ok := out.Signals[gone.Ref()]
	assert.False(t, ok, "items deleted between listing and scoring are omitted")
}

func TestAggregator_NotPersonalized(t *testing.T) {
	store := newFakeStore()
	item := post(1, authorA, at(0))
	item.ToolIDs = []string{"t1"}

	viewerCtx := domain.NewViewerContext(viewer, []string{authorA}, domain.Preferences{ToolIDs: []string{"t1"}})
	out, err := NewAggregator(store, nil).Aggregate(context.Background(), []*domain.ContentItem{item}, viewerCtx, AggregateOptions{AsOf: at(1)})
	require.NoError(t, err)

	sig := out.Signals[item.Ref()]
	assert.False(t, sig.AuthorFollowed)
	assert.Zero(t, sig.ToolOverlap)
	assert.Equal(t, int64(1), store.stateCalls.Load(), "viewer state is still read for display")
}

func TestAggregator_StoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection reset")

	_, err := NewAggregator(store, nil).Aggregate(context.Background(), []*domain.ContentItem{post(1, authorA, at(0))}, domain.AnonymousViewer(), AggregateOptions{AsOf: at(1)})
	assert.Error(t, err)
}

func TestAggregator_Empty(t *testing.T) {
	store := newFakeStore()
	out, err := NewAggregator(store, nil).Aggregate(context.Background(), nil, domain.AnonymousViewer(), AggregateOptions{AsOf: at(1)})
	require.NoError(t, err)
	assert.Empty(t, out.Signals)
	assert.Zero(t, store.calls.Load())
}
