package vector

import (
	"context"
	"database/sql"
	"encoding/json"

	"aegis/internal/aerr"
	"aegis/internal/embedding"

	_ "modernc.org/sqlite"
)

// SQLStore is the relational variant: one row per entry with the embedding
// serialized as a JSON float array, cosine ranking done in Go after a full
// scan. Suits deployments that already snapshot a sqlite file.
type SQLStore struct {
	db     *sql.DB
	engine embedding.Engine
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS vectors (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	embedding TEXT NOT NULL,
	created_at INTEGER NOT NULL DEFAULT (unixepoch())
);
`

// NewSQLStore opens (creating if needed) the sqlite database at path.
func NewSQLStore(path string, engine embedding.Engine) (*SQLStore, error) {
	const op = "vector.NewSQLStore"
	if path == "" {
		path = "aegis-vectors.db"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	return &SQLStore{db: db, engine: engine}, nil
}

func (s *SQLStore) Add(ctx context.Context, id, text string) error {
	const op = "vector.SQLStore.Add"
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		return err
	}
	embJSON, err := json.Marshal(vec)
	if err != nil {
		return aerr.E(aerr.KindInternal, op, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO vectors (id, content, embedding) VALUES (?, ?, ?)`,
		id, text, string(embJSON))
	if err != nil {
		return aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	return nil
}

func (s *SQLStore) FindSimilar(ctx context.Context, query string, k int, threshold float64) ([]Match, error) {
	const op = "vector.SQLStore.FindSimilar"
	if k <= 0 {
		return nil, nil
	}
	qv, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding FROM vectors`)
	if err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var id, content, embJSON string
		if err := rows.Scan(&id, &content, &embJSON); err != nil {
			continue
		}
		var vec []float32
		if err := json.Unmarshal([]byte(embJSON), &vec); err != nil {
			continue
		}
		score, err := embedding.CosineSimilarity(qv, vec)
		if err != nil {
			continue
		}
		matches = append(matches, Match{ID: id, Text: content, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	return rankMatches(matches, k, threshold), nil
}

func (s *SQLStore) Remove(ctx context.Context, id string) error {
	const op = "vector.SQLStore.Remove"
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id); err != nil {
		return aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context) (int, error) {
	const op = "vector.SQLStore.Count"
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n); err != nil {
		return 0, aerr.E(aerr.KindBackendUnavailable, op, err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
