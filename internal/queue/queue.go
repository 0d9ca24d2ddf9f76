// Package queue implements the Queue Manager (spec §4.4), the hardest
// subcomponent in the core: a densely-indexed ordered list of collection
// entries pending playback. Every mutation runs inside a single
// transaction to preserve the contiguity invariant under concurrent
// writers (spec §4.4, §5). Grounded directly on the original Rust
// implementation's two-phase shift algorithm,
// movie_collection_lib/src/movie_queue.rs, translated statement-for-
// statement so the invariant-preserving arithmetic is unchanged.
package queue

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	internaldb "github.com/ddboline/movie-collection-go/internal/db"
	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/scanner"
)

// Manager is the Queue Manager repository.
type Manager struct {
	db *sql.DB
}

// New builds a Manager.
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

func maxIdx(q querier) (int, error) {
	var max sql.NullInt64
	if err := q.QueryRow(`SELECT max(idx) FROM queue_entries`).Scan(&max); err != nil {
		return -1, err
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRow(query string, args ...interface{}) *sql.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// idxForCollection returns the current position of collectionID, if queued.
func idxForCollection(q querier, collectionID uuid.UUID) (int, bool, error) {
	var idx int
	err := q.QueryRow(`SELECT idx FROM queue_entries WHERE collection_id = $1`, collectionID).Scan(&idx)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// RemoveByPosition deletes the entry at idx and closes the gap so every
// position above idx decreases by one (spec §4.4). Out-of-range idx is a
// silent no-op.
func (m *Manager) RemoveByPosition(idx int) error {
	return internaldb.WithTx(m.db, func(tx *sql.Tx) error {
		return removeByPositionTx(tx, idx)
	})
}

func removeByPositionTx(tx *sql.Tx, idx int) error {
	max, err := maxIdx(tx)
	if err != nil {
		return fmt.Errorf("max idx: %w", err)
	}
	if idx > max || idx < 0 {
		return nil
	}
	diff := max - idx

	if _, err := tx.Exec(`DELETE FROM queue_entries WHERE idx = $1`, idx); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE queue_entries SET idx = idx + $1, last_modified = now() WHERE idx > $2`,
		diff, idx,
	); err != nil {
		return fmt.Errorf("shift up: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE queue_entries SET idx = idx - $1 - 1, last_modified = now() WHERE idx > $2`,
		diff, idx,
	); err != nil {
		return fmt.Errorf("shift down: %w", err)
	}

	return nil
}

// RemoveByCollection resolves collectionID to its current position and
// removes it (spec §4.4). A collection entry not currently queued is a
// no-op.
func (m *Manager) RemoveByCollection(collectionID uuid.UUID) error {
	return internaldb.WithTx(m.db, func(tx *sql.Tx) error {
		idx, ok, err := idxForCollection(tx, collectionID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return removeByPositionTx(tx, idx)
	})
}

// RemoveByPath resolves path to a collection id via resolver, then removes
// it from the queue (spec §4.4). resolver is the Collection Store's
// ResolveIndex.
func (m *Manager) RemoveByPath(path string, resolver PathResolver) error {
	entry, err := resolver.ResolveIndex(path)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}
	return m.RemoveByCollection(entry.ID)
}

// PathResolver is the subset of the Collection Store the Queue Manager
// depends on (kept narrow — spec §1 treats component wiring as interface
// contracts between core pieces).
type PathResolver interface {
	ResolveIndex(pathOrSuffix string) (*models.CollectionEntry, error)
}

// Insert places collectionID at position idx (spec §4.4). If collectionID
// is already queued, it is removed first, making repeated Insert calls an
// idempotent "move" operation. The insertion itself runs the original's
// two-phase shift: open a gap at idx by shifting everything at or past it
// forward by `diff = max_idx - idx + 2`, insert the row, then shift
// everything past idx back by `diff - 1` so the slot is occupied without
// gaps — every intermediate state inside the transaction is gap-free
// modulo the transiently-shifted tail (spec §4.4, §9 open question).
func (m *Manager) Insert(idx int, collectionID uuid.UUID) error {
	return internaldb.WithTx(m.db, func(tx *sql.Tx) error {
		if curIdx, ok, err := idxForCollection(tx, collectionID); err != nil {
			return err
		} else if ok {
			if err := removeByPositionTx(tx, curIdx); err != nil {
				return err
			}
		}

		var exists bool
		err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM queue_entries WHERE idx = $1)`, idx).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check idx exists: %w", err)
		}

		max, err := maxIdx(tx)
		if err != nil {
			return fmt.Errorf("max idx: %w", err)
		}
		diff := max - idx + 2

		if exists {
			if _, err := tx.Exec(
				`UPDATE queue_entries SET idx = idx + $1, last_modified = now() WHERE idx >= $2`,
				diff, idx,
			); err != nil {
				return fmt.Errorf("shift up: %w", err)
			}
		}

		if _, err := tx.Exec(
			`INSERT INTO queue_entries (idx, collection_id, last_modified) VALUES ($1, $2, now())`,
			idx, collectionID,
		); err != nil {
			return fmt.Errorf("insert: %w", err)
		}

		if exists {
			if _, err := tx.Exec(
				`UPDATE queue_entries SET idx = idx - $1 + 1, last_modified = now() WHERE idx > $2`,
				diff, idx,
			); err != nil {
				return fmt.Errorf("shift down: %w", err)
			}
		}

		return nil
	})
}

// GetMaxIndex returns the highest occupied position, or -1 if empty.
func (m *Manager) GetMaxIndex() (int, error) {
	return maxIdx(m.db)
}

// List returns every queue entry whose underlying collection path matches
// any of patterns (empty = all), sorted by position descending, joined
// with IMDB link/TV-flag/episode-URL data (spec §4.4).
func (m *Manager) List(patterns []string) ([]models.QueueResult, error) {
	query := `
		SELECT a.idx, b.path, c.link, c.istv
		FROM queue_entries a
		JOIN collection_entries b ON a.collection_id = b.id
		LEFT JOIN imdb_shows c ON b.show_id = c.id
	`
	args := []interface{}{}
	if len(patterns) > 0 {
		clauses := make([]string, 0, len(patterns))
		for _, p := range patterns {
			args = append(args, "%"+p+"%")
			clauses = append(clauses, fmt.Sprintf("b.path LIKE $%d", len(args)))
		}
		query += " WHERE " + joinOr(clauses)
	}
	query += " ORDER BY a.idx DESC"

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueResult
	for rows.Next() {
		var r models.QueueResult
		var istv sql.NullBool
		if err := rows.Scan(&r.Idx, &r.Path, &r.Link, &istv); err != nil {
			return nil, err
		}
		r.IsTV = istv.Valid && istv.Bool
		if r.IsTV {
			stem := fileStem(r.Path)
			parsed := scanner.ParseFileStem(stem)
			if parsed.Season >= 0 && parsed.Episode >= 0 {
				var epurl string
				err := m.db.QueryRow(
					`SELECT epurl FROM imdb_episodes WHERE show = $1 AND season = $2 AND episode = $3`,
					parsed.Show, parsed.Season, parsed.Episode,
				).Scan(&epurl)
				if err == nil {
					show := parsed.Show
					season := parsed.Season
					episode := parsed.Episode
					r.Show = &show
					r.Season = &season
					r.Episode = &episode
					r.EpLink = &epurl
				} else if err != sql.ErrNoRows {
					return nil, err
				}
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListChangedSince streams rows with last_modified >= timestamp (spec §4.4).
func (m *Manager) ListChangedSince(timestamp interface{ Unix() int64 }) ([]models.QueueEntry, error) {
	rows, err := m.db.Query(
		`SELECT idx, collection_id, last_modified FROM queue_entries WHERE last_modified >= to_timestamp($1)`,
		timestamp.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueueEntry
	for rows.Next() {
		var e models.QueueEntry
		if err := rows.Scan(&e.Idx, &e.CollectionID, &e.LastModified); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func fileStem(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}

func joinOr(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " OR "
		}
		out += c
	}
	return out
}
