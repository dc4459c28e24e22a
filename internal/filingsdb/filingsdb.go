// Package filingsdb mirrors broken-page findings into the relational
// filings table so the scraper side can see which documents need OCR.
// Errors on this path are logged and swallowed, and the feature is
// disabled entirely when no database URL is set.
package filingsdb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const connectTimeout = 5 * time.Second

// Store holds a lazily initialized shared connection pool.
type Store struct {
	databaseURL string
	logger      *slog.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

// New creates a store. An empty databaseURL disables every operation.
func New(databaseURL string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{databaseURL: databaseURL, logger: logger}
}

// UpdateBrokenPages records the broken page numbers for one filing.
// Best-effort: failures are logged and the pool is reset for the next
// attempt.
func (s *Store) UpdateBrokenPages(ctx context.Context, exchange, sourceID string, brokenPages []int) {
	if s.databaseURL == "" || exchange == "" || sourceID == "" || len(brokenPages) == 0 {
		return
	}

	pool, err := s.getPool(ctx)
	if err != nil {
		s.logger.Warn("filings db unavailable", "error", err)
		return
	}

	pages := make([]int32, len(brokenPages))
	for i, p := range brokenPages {
		pages[i] = int32(p)
	}

	_, err = pool.Exec(ctx,
		`UPDATE filings SET broken_pages = $1 WHERE exchange = $2 AND source_id = $3`,
		pages, exchange, sourceID,
	)
	if err != nil {
		s.logger.Warn("failed to update broken_pages",
			"exchange", exchange, "source_id", sourceID, "error", err)
		s.reset()
	}
}

// Close releases the pool.
func (s *Store) Close() {
	s.reset()
}

func (s *Store) getPool(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, s.databaseURL)
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return pool, nil
}

func (s *Store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
