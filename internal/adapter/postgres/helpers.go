package postgres

import (
	"time"

	"github.com/Strob0t/FlowForge/internal/domain/run"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// scanRun scans one row from the runs table (without history).
func scanRun(row scannable) (*run.Run, error) {
	var r run.Run
	var parentID, cacheKey, runErr *string
	var state string

	err := row.Scan(&r.ID, &parentID, &r.Name, &state, &r.Attempts, &r.Tags,
		&cacheKey, &r.PauseExpiresAt, &runErr, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.State = run.State(state)
	if parentID != nil {
		r.ParentID = *parentID
	}
	if cacheKey != nil {
		r.CacheKey = *cacheKey
	}
	if runErr != nil {
		r.Error = *runErr
	}
	return &r, nil
}

// nullIfEmpty returns nil for empty strings (for nullable text columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime converts a zero time to nil for nullable DB columns.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// pgTextArray converts a string slice to a pgx-compatible text array.
// nil slices become empty arrays to avoid SQL NULL.
func pgTextArray(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
