package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Feed posts live inside the profiles.profile_posts JSONB column, so the post
// sub-query unnests that array on the fly instead of hitting a posts table.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery over feed posts and profile names, ranked with
// ts_rank and snippeted with ts_headline. Only posts flagged for the public
// feed are matched, mirroring what gets pushed to Meilisearch.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultPost {
		postWhere := fmt.Sprintf(
			"(post->>'showInUpdatesFeed')::boolean AND to_tsvector('english', coalesce(post->>'title','') || ' ' || coalesce(post->>'text','')) @@ %s",
			tsQuery)
		if q.FilterProfileID != "" {
			postWhere += fmt.Sprintf(" AND pr.id = $%d", argN)
			args = append(args, q.FilterProfileID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, post->>'id' AS id,
				coalesce(post->>'title', '') AS title,
				ts_headline('english', coalesce(post->>'text', ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				pr.id AS profile_id,
				coalesce(post->>'type', '') AS item_type,
				ts_rank(to_tsvector('english', coalesce(post->>'title','') || ' ' || coalesce(post->>'text','')), %s) AS rank
			FROM profiles pr, jsonb_array_elements(pr.profile_posts) AS post
			WHERE %s`, tsQuery, tsQuery, postWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultProfile {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'profile'::text AS type, pr.id,
				pr.name AS title,
				pr.kind AS snippet,
				pr.id AS profile_id,
				''::text AS item_type,
				ts_rank(to_tsvector('english', pr.name), %s) AS rank
			FROM profiles pr
			WHERE to_tsvector('english', pr.name) @@ %s`, tsQuery, tsQuery))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, profile_id, item_type
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProfileID, &r.ItemType); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []ProfileRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT post->>'id', pr.id, coalesce(post->>'type', ''),
			coalesce(post->>'title', ''), coalesce(post->>'text', '')
		FROM profiles pr, jsonb_array_elements(pr.profile_posts) AS post
		WHERE (post->>'showInUpdatesFeed')::boolean
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var p PostRecord
		if err := postRows.Scan(&p.ID, &p.ProfileID, &p.Type, &p.Title, &p.Text); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	profileRows, err := p.db.QueryContext(ctx, `SELECT id, kind, name FROM profiles`)
	if err != nil {
		return nil, nil, fmt.Errorf("load profiles: %w", err)
	}
	defer profileRows.Close()

	profiles := make([]ProfileRecord, 0)
	for profileRows.Next() {
		var pr ProfileRecord
		if err := profileRows.Scan(&pr.ID, &pr.Kind, &pr.Name); err != nil {
			return nil, nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, pr)
	}
	if err := profileRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate profiles: %w", err)
	}

	return posts, profiles, nil
}
