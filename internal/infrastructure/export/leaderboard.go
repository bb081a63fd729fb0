// Package export writes academy reports as spreadsheets.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/progress"
	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/shared"
)

const leaderboardSheet = "Leaderboard"

var leaderboardHeader = []interface{}{"Rank", "User ID", "Leaderboard Score", "Total Credits", "Certifications", "Modules"}

// LeaderboardRow is one exported learner.
type LeaderboardRow struct {
	Rank           int
	UserID         string
	Score          int
	CreditsTotal   int
	Certifications int
	Modules        int
}

// LeaderboardExporter builds the leaderboard report from the progress store.
type LeaderboardExporter struct {
	store progress.Repository
	now   func() time.Time
}

// NewLeaderboardExporter creates an exporter. A nil clock means time.Now.
func NewLeaderboardExporter(store progress.Repository, now func() time.Time) *LeaderboardExporter {
	if now == nil {
		now = time.Now
	}
	return &LeaderboardExporter{store: store, now: now}
}

// Rows reads the top limit learners with their credit and certification
// counts. Users removed between the ranking read and the detail read are
// skipped.
func (e *LeaderboardExporter) Rows(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	entries, err := e.store.TopByScore(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read ranking: %w", err)
	}

	rows := make([]LeaderboardRow, 0, len(entries))
	for _, entry := range entries {
		p, err := e.store.Get(ctx, entry.UserID)
		if err != nil {
			if shared.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("read progress of %s: %w", entry.UserID, err)
		}
		rows = append(rows, LeaderboardRow{
			Rank:           len(rows) + 1,
			UserID:         entry.UserID,
			Score:          entry.Score,
			CreditsTotal:   p.Credits.Total,
			Certifications: len(p.Certifications),
			Modules:        len(p.ModuleProgress),
		})
	}
	return rows, nil
}

// Export writes the top limit learners to w as an XLSX workbook.
func (e *LeaderboardExporter) Export(ctx context.Context, w io.Writer, limit int) (int, error) {
	rows, err := e.Rows(ctx, limit)
	if err != nil {
		return 0, err
	}
	if err := WriteLeaderboardXLSX(w, rows, e.now().UTC()); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// WriteLeaderboardXLSX renders rows into a single-sheet workbook.
func WriteLeaderboardXLSX(w io.Writer, rows []LeaderboardRow, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", leaderboardSheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	if err := f.SetSheetRow(leaderboardSheet, "A1", &leaderboardHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}
	if err := f.SetCellStyle(leaderboardSheet, "A1", "F1", bold); err != nil {
		return fmt.Errorf("style header: %w", err)
	}
	if err := f.SetColWidth(leaderboardSheet, "B", "B", 32); err != nil {
		return fmt.Errorf("size columns: %w", err)
	}

	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []interface{}{r.Rank, r.UserID, r.Score, r.CreditsTotal, r.Certifications, r.Modules}
		if err := f.SetSheetRow(leaderboardSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	footer, err := excelize.CoordinatesToCellName(1, len(rows)+3)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(leaderboardSheet, footer, "Generated at "+generatedAt.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
