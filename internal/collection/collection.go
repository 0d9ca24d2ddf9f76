// Package collection implements the Collection Store (spec §4.2): the
// authoritative set of on-disk media files. Grounded on
// internal/repository/media_repository.go's plain database/sql + $n
// placeholder style.
package collection

import (
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/scanner"
)

// ErrCheckExistsFailed is returned by Insert when check_exists is true and
// the file is absent on disk (spec §4.2).
var ErrCheckExistsFailed = fmt.Errorf("file does not exist")

// Store is the Collection Store repository.
type Store struct {
	db *sql.DB
}

// New builds a Store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func deriveShow(path string) string {
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	parsed := scanner.ParseFileStem(base)
	return parsed.Show
}

// Insert creates or revives a CollectionEntry for path (spec §4.2). If an
// entry for this path already exists, its is_deleted flag is cleared and
// last_modified is bumped; otherwise a new entry is created with `show`
// derived via the filename parser. If checkExists is true and the file is
// absent on disk, Insert fails with ErrCheckExistsFailed.
func (s *Store) Insert(path string, checkExists bool) (*models.CollectionEntry, error) {
	if checkExists {
		if _, err := os.Stat(path); err != nil {
			return nil, ErrCheckExistsFailed
		}
	}

	existing, err := s.getByPath(path, false)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		row := s.db.QueryRow(
			`UPDATE collection_entries SET is_deleted = false, last_modified = now()
			 WHERE id = $1 RETURNING id, path, show, show_id, is_deleted, last_modified`,
			existing.ID,
		)
		return scanEntry(row)
	}

	show := deriveShow(path)
	row := s.db.QueryRow(
		`INSERT INTO collection_entries (id, path, show, is_deleted, last_modified)
		 VALUES ($1, $2, $3, false, now())
		 RETURNING id, path, show, show_id, is_deleted, last_modified`,
		uuid.New(), path, show,
	)
	return scanEntry(row)
}

// Remove soft-deletes the entry at path (spec §4.2). Removing a path with
// no entry is a silent no-op.
func (s *Store) Remove(path string) error {
	_, err := s.db.Exec(
		`UPDATE collection_entries SET is_deleted = true, last_modified = now() WHERE path = $1`,
		path,
	)
	return err
}

// getByPath looks up an entry by exact path. liveOnly restricts to
// non-deleted rows; Insert's revive check passes false so a soft-deleted
// row is found and revived.
func (s *Store) getByPath(path string, liveOnly bool) (*models.CollectionEntry, error) {
	query := `SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE path = $1`
	if liveOnly {
		query = `SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE path = $1 AND is_deleted = false`
	}
	row := s.db.QueryRow(query, path)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// ResolveIndex looks up an entry by exact path (if input starts with "/")
// or by path suffix otherwise, returning the first match or nil (spec §4.2).
func (s *Store) ResolveIndex(pathOrSuffix string) (*models.CollectionEntry, error) {
	var row *sql.Row
	if strings.HasPrefix(pathOrSuffix, "/") {
		row = s.db.QueryRow(
			`SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE path = $1 LIMIT 1`,
			pathOrSuffix,
		)
	} else {
		row = s.db.QueryRow(
			`SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE path LIKE $1 LIMIT 1`,
			"%"+pathOrSuffix,
		)
	}
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// ResolvePath returns the stored path for id.
func (s *Store) ResolvePath(id uuid.UUID) (string, error) {
	var path string
	err := s.db.QueryRow(`SELECT path FROM collection_entries WHERE id = $1`, id).Scan(&path)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("collection entry %s not found", id)
	}
	return path, err
}

// GetByID returns the full entry for id.
func (s *Store) GetByID(id uuid.UUID) (*models.CollectionEntry, error) {
	row := s.db.QueryRow(
		`SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE id = $1`,
		id,
	)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection entry %s not found", id)
	}
	return entry, err
}

// MatchPatterns returns every live path containing any of patterns as a
// substring; an empty pattern list returns every live path (spec §4.2).
func (s *Store) MatchPatterns(patterns []string) ([]string, error) {
	query := `SELECT path FROM collection_entries WHERE is_deleted = false`
	args := []interface{}{}
	if len(patterns) > 0 {
		clauses := make([]string, 0, len(patterns))
		for _, p := range patterns {
			args = append(args, "%"+p+"%")
			clauses = append(clauses, fmt.Sprintf("path LIKE $%d", len(args)))
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// LiveMap returns a path -> CollectionEntry map of every non-deleted entry,
// used by the Reconciliation Pass (spec §4.7 step 2).
func (s *Store) LiveMap() (map[string]*models.CollectionEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, path, show, show_id, is_deleted, last_modified FROM collection_entries WHERE is_deleted = false`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.CollectionEntry)
	for rows.Next() {
		e := &models.CollectionEntry{}
		if err := rows.Scan(&e.ID, &e.Path, &e.Show, &e.ShowID, &e.IsDeleted, &e.LastModified); err != nil {
			return nil, err
		}
		out[e.Path] = e
	}
	return out, rows.Err()
}

// FixShowIDs sets show_id on every entry whose show_id is null and whose
// show token matches an ImdbShow.show exactly (spec §4.2). Idempotent.
// Returns the number of rows updated.
func (s *Store) FixShowIDs() (int64, error) {
	res, err := s.db.Exec(`
		UPDATE collection_entries c
		SET show_id = i.id, last_modified = now()
		FROM imdb_shows i
		WHERE c.show_id IS NULL AND c.show = i.show
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(row *sql.Row) (*models.CollectionEntry, error) {
	e := &models.CollectionEntry{}
	err := row.Scan(&e.ID, &e.Path, &e.Show, &e.ShowID, &e.IsDeleted, &e.LastModified)
	if err != nil {
		return nil, err
	}
	return e, nil
}
