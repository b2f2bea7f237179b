package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snowdamiz/vibeslop-sub003/internal/core/domain"
	"github.com/snowdamiz/vibeslop-sub003/internal/core/ports"
)

// Colonnes communes à tous les types : id, auteur, date, tags d'affinité
const headerColumns = `
	t.id::text, t.user_id::text, t.created_at,
	ARRAY(SELECT ct.tool_id::text FROM content_tools ct WHERE ct.content_type = @type AND ct.content_id = t.id),
	ARRAY(SELECT cs.stack_id::text FROM content_stacks cs WHERE cs.content_type = @type AND cs.content_id = t.id)`

// Fenêtre + auteurs optionnels, les plus récents d'abord.
// postedAt est la colonne qui fait entrer l'item dans les feeds (published_at pour un projet).
func candidateWhere(postedAt string) string {
	return `
	t.deleted_at IS NULL
	AND ` + postedAt + ` >= @since AND ` + postedAt + ` <= @until
	AND (@authors::uuid[] IS NULL OR t.user_id = ANY(@authors::uuid[]))`
}

func candidateOrder(postedAt string) string {
	return `ORDER BY ` + postedAt + ` DESC, t.id LIMIT @limit`
}

type PostgresRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRepo(db *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{db: db}
}

var _ ports.ContentStore = (*PostgresRepo)(nil)

// tableFor : une table par type de contenu
func tableFor(t domain.ContentType) (string, error) {
	switch t {
	case domain.TypePost:
		return "posts", nil
	case domain.TypeProject:
		return "projects", nil
	case domain.TypeRepost:
		return "reposts", nil
	case domain.TypeGig:
		return "gigs", nil
	case domain.TypeBotPost:
		return "bot_posts", nil
	}
	return "", fmt.Errorf("unknown content type %q", t)
}

// candidateQuery renvoie la requête propre au type et le scanner de la variante
func candidateQuery(t domain.ContentType) (string, func(pgx.Rows) (*domain.ContentItem, error), error) {
	switch t {
	case domain.TypePost:
		q := `SELECT ` + headerColumns + `, t.body, t.image_urls
			FROM posts t WHERE ` + candidateWhere("t.created_at") + ` ` + candidateOrder("t.created_at")
		return q, scanPost, nil
	case domain.TypeProject:
		// Brouillons exclus : un projet n'existe pour les feeds qu'à sa publication
		q := `SELECT ` + headerColumns + `, t.title, t.tagline, t.image_urls, t.published_at
			FROM projects t WHERE t.published_at IS NOT NULL AND ` + candidateWhere("t.published_at") + ` ` + candidateOrder("t.published_at")
		return q, scanProject, nil
	case domain.TypeRepost:
		// L'auteur et la date de l'original servent à l'anti auto-repost
		q := `SELECT ` + headerColumns + `, t.original_type, t.original_id::text, t.quote,
				COALESCE(op.user_id, opr.user_id)::text, COALESCE(op.created_at, opr.published_at)
			FROM reposts t
			LEFT JOIN posts op ON t.original_type = 'post' AND op.id = t.original_id AND op.deleted_at IS NULL
			LEFT JOIN projects opr ON t.original_type = 'project' AND opr.id = t.original_id
				AND opr.deleted_at IS NULL AND opr.published_at IS NOT NULL
			WHERE ` + candidateWhere("t.created_at") + `
			AND (op.id IS NOT NULL OR opr.id IS NOT NULL) ` + candidateOrder("t.created_at")
		return q, scanRepost, nil
	case domain.TypeGig:
		q := `SELECT ` + headerColumns + `, t.title, t.budget_cents, t.status
			FROM gigs t WHERE ` + candidateWhere("t.created_at") + ` AND t.status = 'open' ` + candidateOrder("t.created_at")
		return q, scanGig, nil
	case domain.TypeBotPost:
		q := `SELECT ` + headerColumns + `, t.bot_handle, t.template, t.metadata
			FROM bot_posts t WHERE ` + candidateWhere("t.created_at") + ` ` + candidateOrder("t.created_at")
		return q, scanBotPost, nil
	}
	return "", nil, fmt.Errorf("unknown content type %q", t)
}

// FetchCandidates : une requête par type, compteurs lus à part (BatchEngagementCounts)
func (r *PostgresRepo) FetchCandidates(ctx context.Context, contentType domain.ContentType, filter ports.CandidateFilter) ([]*domain.ContentItem, error) {
	q, scan, err := candidateQuery(contentType)
	if err != nil {
		return nil, err
	}

	var authors []string
	if len(filter.Authors) > 0 {
		authors = filter.Authors
	}
	args := pgx.NamedArgs{
		"type":    string(contentType),
		"since":   filter.Since,
		"until":   filter.Until,
		"authors": authors,
		"limit":   filter.Limit,
	}

	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, r.handleError(err)
	}
	defer rows.Close()

	var items []*domain.ContentItem
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", contentType, err)
		}
		item.Type = contentType
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleError(err)
	}
	return items, nil
}

// BatchEngagementCounts : compteurs dénormalisés (content_stats), items supprimés exclus.
// Un item vivant sans ligne de stats a des compteurs à zéro.
func (r *PostgresRepo) BatchEngagementCounts(ctx context.Context, contentType domain.ContentType, ids []string) (map[string]domain.EngagementCounts, error) {
	if len(ids) == 0 {
		return map[string]domain.EngagementCounts{}, nil
	}
	table, err := tableFor(contentType)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT t.id::text,
			COALESCE(s.likes, 0), COALESCE(s.comments, 0), COALESCE(s.reposts, 0), COALESCE(s.impressions, 0)
		FROM ` + table + ` t
		LEFT JOIN content_stats s ON s.content_type = $1 AND s.content_id = t.id
		WHERE t.id = ANY($2::uuid[]) AND t.deleted_at IS NULL
	`
	rows, err := r.db.Query(ctx, q, string(contentType), ids)
	if err != nil {
		return nil, r.handleError(err)
	}
	defer rows.Close()

	out := make(map[string]domain.EngagementCounts, len(ids))
	for rows.Next() {
		var id string
		var c domain.EngagementCounts
		if err := rows.Scan(&id, &c.Likes, &c.Comments, &c.Reposts, &c.Impressions); err != nil {
			return nil, err
		}
		out[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleError(err)
	}
	return out, nil
}

// BatchViewerState : likes / bookmarks / reposts du viewer sur un lot d'items
func (r *PostgresRepo) BatchViewerState(ctx context.Context, viewerID string, contentType domain.ContentType, ids []string) (map[string]domain.EngagementState, error) {
	if len(ids) == 0 || viewerID == "" {
		return map[string]domain.EngagementState{}, nil
	}

	q := `
		SELECT x.id::text,
			EXISTS(SELECT 1 FROM likes l WHERE l.user_id = @viewer AND l.content_type = @type AND l.content_id = x.id),
			EXISTS(SELECT 1 FROM bookmarks b WHERE b.user_id = @viewer AND b.content_type = @type AND b.content_id = x.id),
			EXISTS(SELECT 1 FROM reposts rp WHERE rp.user_id = @viewer AND rp.original_type = @type
				AND rp.original_id = x.id AND rp.deleted_at IS NULL)
		FROM unnest(@ids::uuid[]) AS x(id)
	`
	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{
		"viewer": viewerID,
		"type":   string(contentType),
		"ids":    ids,
	})
	if err != nil {
		return nil, r.handleError(err)
	}
	defer rows.Close()

	out := make(map[string]domain.EngagementState, len(ids))
	for rows.Next() {
		var id string
		var s domain.EngagementState
		if err := rows.Scan(&id, &s.Liked, &s.Bookmarked, &s.Reposted); err != nil {
			return nil, err
		}
		out[id] = s
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleError(err)
	}
	return out, nil
}

func (r *PostgresRepo) ViewerPreferences(ctx context.Context, viewerID string) (domain.Preferences, error) {
	q := `
		SELECT
			ARRAY(SELECT tool_id::text FROM user_tools WHERE user_id = $1),
			ARRAY(SELECT stack_id::text FROM user_stacks WHERE user_id = $1)
	`
	var prefs domain.Preferences
	if err := r.db.QueryRow(ctx, q, viewerID).Scan(&prefs.ToolIDs, &prefs.StackIDs); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Preferences{}, nil
		}
		return domain.Preferences{}, r.handleError(err)
	}
	return prefs, nil
}

// ActiveUsers : candidats "who to follow", les plus récemment actifs d'abord
func (r *PostgresRepo) ActiveUsers(ctx context.Context, since time.Time, limit int) ([]domain.UserProfile, error) {
	q := `
		SELECT u.id::text, u.username, COALESCE(u.display_name, ''), COALESCE(u.avatar_url, ''),
			ARRAY(SELECT tool_id::text FROM user_tools WHERE user_id = u.id),
			ARRAY(SELECT stack_id::text FROM user_stacks WHERE user_id = u.id),
			u.follower_count, u.last_active_at
		FROM users u
		WHERE u.is_active AND u.deleted_at IS NULL AND u.last_active_at >= $1
		ORDER BY u.last_active_at DESC, u.id
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, q, since, limit)
	if err != nil {
		return nil, r.handleError(err)
	}
	defer rows.Close()

	var users []domain.UserProfile
	for rows.Next() {
		var u domain.UserProfile
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL,
			&u.ToolIDs, &u.StackIDs, &u.FollowerCount, &u.LastActiveAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handleError(err)
	}
	return users, nil
}

// --- Scanners par variante ---

func scanPost(rows pgx.Rows) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var p domain.PostPayload
	if err := rows.Scan(&item.ID, &item.AuthorID, &item.CreatedAt, &item.ToolIDs, &item.StackIDs,
		&p.Body, &p.ImageURLs); err != nil {
		return nil, err
	}
	item.Payload = &p
	return &item, nil
}

func scanProject(rows pgx.Rows) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var p domain.ProjectPayload
	var publishedAt *time.Time
	if err := rows.Scan(&item.ID, &item.AuthorID, &item.CreatedAt, &item.ToolIDs, &item.StackIDs,
		&p.Title, &p.Tagline, &p.ImageURLs, &publishedAt); err != nil {
		return nil, err
	}
	if publishedAt != nil {
		p.PublishedAt = *publishedAt
	}
	item.Payload = &p
	return &item, nil
}

func scanRepost(rows pgx.Rows) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var p domain.RepostPayload
	var originalType string
	var originalAuthor *string
	var originalCreated *time.Time
	if err := rows.Scan(&item.ID, &item.AuthorID, &item.CreatedAt, &item.ToolIDs, &item.StackIDs,
		&originalType, &p.Original.ID, &p.Quote, &originalAuthor, &originalCreated); err != nil {
		return nil, err
	}
	p.Original.Type = domain.ContentType(originalType)
	if originalAuthor != nil {
		p.OriginalAuthorID = *originalAuthor
	}
	if originalCreated != nil {
		p.OriginalPostedAt = *originalCreated
	}
	item.Payload = &p
	return &item, nil
}

func scanGig(rows pgx.Rows) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var p domain.GigPayload
	var status string
	if err := rows.Scan(&item.ID, &item.AuthorID, &item.CreatedAt, &item.ToolIDs, &item.StackIDs,
		&p.Title, &p.BudgetCents, &status); err != nil {
		return nil, err
	}
	p.Status = domain.GigStatus(status)
	item.Payload = &p
	return &item, nil
}

func scanBotPost(rows pgx.Rows) (*domain.ContentItem, error) {
	var item domain.ContentItem
	var p domain.BotPostPayload
	var metadata []byte
	if err := rows.Scan(&item.ID, &item.AuthorID, &item.CreatedAt, &item.ToolIDs, &item.StackIDs,
		&p.BotHandle, &p.Template, &metadata); err != nil {
		return nil, err
	}
	p.Metadata = unmarshalMetadata(metadata)
	item.Payload = &p
	return &item, nil
}

func unmarshalMetadata(data []byte) map[string]string {
	if len(data) == 0 {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]string{} // Fallback safe
	}
	return m
}

// handleError traduit les pannes de connexion / timeouts en ErrStoreUnavailable
func (r *PostgresRepo) handleError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 57014 = query_canceled (statement_timeout), 53300 = too_many_connections
		if pgErr.Code == "57014" || pgErr.Code == "53300" {
			return fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, pgErr.Message)
		}
		return fmt.Errorf("postgres %s: %w", pgErr.Code, err)
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
