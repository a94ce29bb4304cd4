package ledger

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/khnews/crosspost/internal/logger"
	"github.com/khnews/crosspost/internal/metrics"
)

// PostgresLedger keeps published ids in a table instead of the JSON
// file. Useful when several runners share a database; the row-level
// uniqueness replaces the file lock.
type PostgresLedger struct {
	db    *sql.DB
	limit int
	ids   []int64
	seen  map[int64]struct{}
}

func NewPostgresLedger(dsn string, limit int) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	if limit <= 0 {
		limit = 200
	}
	pl := &PostgresLedger{
		db:    db,
		limit: limit,
		seen:  make(map[int64]struct{}),
	}
	if err := pl.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}
	return pl, nil
}

func (l *PostgresLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS published_articles (
		seq BIGSERIAL PRIMARY KEY,
		article_id BIGINT UNIQUE NOT NULL,
		published_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_published_articles_id ON published_articles(article_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Load reads all retained ids in insertion order. A query failure
// degrades to an empty ledger with a warning, same as the file backend.
func (l *PostgresLedger) Load() error {
	rows, err := l.db.Query(`SELECT article_id FROM published_articles ORDER BY seq ASC`)
	if err != nil {
		logger.Warn("ledger query failed, starting empty", "error", err)
		l.setIDs(nil)
		return nil
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			logger.Warn("skipping unreadable ledger row", "error", err)
			continue
		}
		ids = append(ids, id)
	}

	l.setIDs(ids)
	metrics.LedgerSize.Set(float64(len(l.ids)))
	return nil
}

func (l *PostgresLedger) Contains(id int64) bool {
	_, ok := l.seen[id]
	return ok
}

func (l *PostgresLedger) Size() int { return len(l.ids) }

func (l *PostgresLedger) IDs() []int64 {
	out := make([]int64, len(l.ids))
	copy(out, l.ids)
	return out
}

// Append inserts the id and trims rows beyond the retained-count cap,
// oldest first.
func (l *PostgresLedger) Append(id int64) error {
	_, err := l.db.Exec(`
		INSERT INTO published_articles (article_id)
		VALUES ($1)
		ON CONFLICT (article_id) DO NOTHING
	`, id)
	if err != nil {
		return fmt.Errorf("failed to append to ledger: %v", err)
	}

	_, err = l.db.Exec(`
		DELETE FROM published_articles
		WHERE seq NOT IN (
			SELECT seq FROM published_articles ORDER BY seq DESC LIMIT $1
		)
	`, l.limit)
	if err != nil {
		logger.Warn("ledger trim failed", "error", err)
	}

	l.ids = appendUnique(l.ids, id)
	if excess := len(l.ids) - l.limit; excess > 0 {
		l.ids = l.ids[excess:]
	}
	l.seen[id] = struct{}{}
	metrics.LedgerSize.Set(float64(len(l.ids)))
	return nil
}

func (l *PostgresLedger) Reset() error {
	if _, err := l.db.Exec(`TRUNCATE published_articles`); err != nil {
		return fmt.Errorf("failed to reset ledger: %v", err)
	}
	l.setIDs(nil)
	metrics.LedgerSize.Set(0)
	return nil
}

func (l *PostgresLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *PostgresLedger) setIDs(ids []int64) {
	l.ids = ids
	l.seen = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		l.seen[id] = struct{}{}
	}
}
