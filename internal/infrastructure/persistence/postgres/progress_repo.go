package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
	now  func() time.Time
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn, now: time.Now}
}

const selectProgress = `
	SELECT document, version, created_at, updated_at
	FROM user_progress
	WHERE user_id = $1
`

// Get returns the stored progress for a user.
func (r *ProgressRepository) Get(ctx context.Context, userID string) (*progress.UserProgress, error) {
	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	p, err := r.scanProgress(r.conn.QueryRow(ctx, selectProgress, userID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, storageError("progress", "Get", err)
	}
	return p, nil
}

// GetOrCreate inserts an empty document when the user has none. The insert
// is a no-op on conflict, so concurrent first calls converge on one row.
func (r *ProgressRepository) GetOrCreate(ctx context.Context, userID string) (*progress.UserProgress, error) {
	if _, err := shared.NewUserID(userID); err != nil {
		return nil, err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	now := r.now().UTC()
	doc, err := json.Marshal(progress.New(userID, now))
	if err != nil {
		return nil, storageError("progress", "GetOrCreate", err)
	}

	_, err = r.conn.Exec(ctx, `
		INSERT INTO user_progress (user_id, document, credits_total, leaderboard_score, version, created_at, updated_at)
		VALUES ($1, $2, 0, 0, 1, $3, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, doc, now)
	if err != nil {
		return nil, storageError("progress", "GetOrCreate", err)
	}

	p, err := r.scanProgress(r.conn.QueryRow(ctx, selectProgress, userID))
	if err != nil {
		return nil, storageError("progress", "GetOrCreate", err)
	}
	return p, nil
}

// Save writes p if the stored version still equals p.Version.
func (r *ProgressRepository) Save(ctx context.Context, p *progress.UserProgress) error {
	if err := p.Validate(); err != nil {
		return err
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	updatedAt := r.now().UTC()
	doc, err := json.Marshal(p)
	if err != nil {
		return storageError("progress", "Save", err)
	}

	if p.Version == 0 {
		_, err = r.conn.Exec(ctx, `
			INSERT INTO user_progress (user_id, document, credits_total, leaderboard_score, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, 1, $5, $6)
		`, p.UserID, doc, p.Credits.Total, p.LeaderboardScore, p.CreatedAt, updatedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return shared.ErrProgressConflict
			}
			return storageError("progress", "Save", err)
		}
		p.Version = 1
		p.UpdatedAt = updatedAt
		return nil
	}

	tag, err := r.conn.Exec(ctx, `
		UPDATE user_progress SET
			document = $1,
			credits_total = $2,
			leaderboard_score = $3,
			version = version + 1,
			updated_at = $4
		WHERE user_id = $5 AND version = $6
	`, doc, p.Credits.Total, p.LeaderboardScore, updatedAt, p.UserID, p.Version)
	if err != nil {
		return storageError("progress", "Save", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrProgressConflict
	}

	p.Version++
	p.UpdatedAt = updatedAt
	return nil
}

// TopByScore returns the leaderboard head straight from the table.
func (r *ProgressRepository) TopByScore(ctx context.Context, limit int) ([]progress.ScoreEntry, error) {
	if limit <= 0 {
		return []progress.ScoreEntry{}, nil
	}

	ctx, cancel := r.conn.withTimeout(ctx)
	defer cancel()

	rows, err := r.conn.Query(ctx, `
		SELECT user_id, leaderboard_score
		FROM user_progress
		ORDER BY leaderboard_score DESC, user_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageError("progress", "TopByScore", err)
	}
	defer rows.Close()

	entries := make([]progress.ScoreEntry, 0, limit)
	for rows.Next() {
		var e progress.ScoreEntry
		if err := rows.Scan(&e.UserID, &e.Score); err != nil {
			return nil, storageError("progress", "TopByScore", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("progress", "TopByScore", err)
	}
	return entries, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (r *ProgressRepository) scanProgress(row pgx.Row) (*progress.UserProgress, error) {
	var (
		doc       []byte
		version   int64
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&doc, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var p progress.UserProgress
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, err
	}

	// Columns win over whatever the document carried.
	p.Version = version
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	if p.Credits.Breakdown == nil {
		p.Credits.Breakdown = map[string]int{}
	}
	if p.ModuleProgress == nil {
		p.ModuleProgress = []*progress.ModuleProgress{}
	}
	if p.Certifications == nil {
		p.Certifications = []progress.Certification{}
	}
	return &p, nil
}
