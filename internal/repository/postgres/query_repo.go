package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/modbridge/internal/domain"
)

// ListCriteria — фильтры и пагинация для Query API
type ListCriteria struct {
	ContentID string
	State     string
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListEvents — постраничная выборка событий по свежести
func (r *EventRepo) ListEvents(ctx context.Context, crit ListCriteria) ([]*domain.ModerationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM moderation_events`

	var args []interface{}
	where := ""
	if crit.ContentID != "" {
		args = append(args, crit.ContentID)
		where = fmt.Sprintf(" WHERE content_id = $%d", len(args))
	}
	if crit.State != "" {
		args = append(args, crit.State)
		if where == "" {
			where = fmt.Sprintf(" WHERE state = $%d", len(args))
		} else {
			where += fmt.Sprintf(" AND state = $%d", len(args))
		}
	}

	limit := crit.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	args = append(args, limit, crit.Offset)
	query += where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query events: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	results := make([]*domain.ModerationEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan event: %w", err)
		}
		results = append(results, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return results, nil
}

// HistoryForContent — все события данного контента, свежие первыми
func (r *EventRepo) HistoryForContent(ctx context.Context, contentID string) ([]*domain.ModerationEvent, error) {
	return r.ListEvents(ctx, ListCriteria{ContentID: contentID})
}

// BlockedSubmitters возвращает авторов, накопивших minBlocks решений BLOCK.
// Используется для прогрева watchlist-кэша при старте моста.
func (r *EventRepo) BlockedSubmitters(ctx context.Context, minBlocks int) ([]string, error) {
	query := `
		SELECT submitter_id
		FROM moderation_events
		WHERE review_decision = $1
		GROUP BY submitter_id
		HAVING COUNT(*) >= $2`

	rows, err := r.pool.Query(ctx, query, string(domain.DecisionBlock), minBlocks)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to fetch blocked submitters: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan submitter id error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}

	return ids, nil
}

// DashboardStats собирает агрегаты для Query API одной пачкой запросов.
// PERCENTILE_CONT дает честный P95 по времени прохождения сабмита.
func (r *EventRepo) DashboardStats(ctx context.Context) (*domain.PipelineStats, error) {
	stats := &domain.PipelineStats{
		Outcomes: domain.OutcomeStats{ByState: make(map[string]int64)},
	}

	// 1. Разбивка по состояниям
	rows, err := r.pool.Query(ctx,
		`SELECT state, COUNT(*) FROM moderation_events GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats by state: %w", err)
	}
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan state count: %w", err)
		}
		stats.Outcomes.ByState[state] = count
		stats.Activity.TotalEvents += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	stats.Activity.PendingReview = stats.Outcomes.ByState[string(domain.StateReviewPending)]

	// 2. Решения, деградация и активность за последний час
	var lastHour int64
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE review_decision = $1),
			COUNT(*) FILTER (WHERE review_decision = $2),
			COUNT(*) FILTER (WHERE degraded),
			COUNT(*) FILTER (WHERE created_at > NOW() - INTERVAL '60 minutes')
		FROM moderation_events`,
		string(domain.DecisionBlock), string(domain.DecisionApprove)).
		Scan(&stats.Outcomes.Blocked, &stats.Outcomes.Approved, &stats.Outcomes.Degraded, &lastHour)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats decisions: %w", err)
	}
	stats.Activity.EventsPerHour = float64(lastHour)

	decided := stats.Outcomes.Blocked + stats.Outcomes.Approved
	if decided > 0 {
		stats.Outcomes.BlockRatio = float64(stats.Outcomes.Blocked) / float64(decided)
	}

	// 3. P95 времени обработки сабмита за последний час (из аудит-трейла конвейера)
	err = r.pool.QueryRow(ctx, `
		SELECT COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms), 0)
		FROM pipeline_audit
		WHERE stage = 'submission' AND timestamp > NOW() - INTERVAL '60 minutes'`).
		Scan(&stats.Quality.P95LatencyMs)
	if err != nil {
		return nil, fmt.Errorf("postgres: stats latency: %w", err)
	}

	return stats, nil
}
