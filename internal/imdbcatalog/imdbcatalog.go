// Package imdbcatalog implements the IMDB Catalog (spec §4.3): shows and
// episodes keyed by IMDB link and (show, season, episode). Grounded on
// internal/repository/tv_repository.go's upsert style and on
// movie_collection_lib/src/imdb_episodes.rs / movie_collection.rs for the
// get_new_episodes window query.
package imdbcatalog

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/scanner"
)

// Catalog is the IMDB Catalog repository.
type Catalog struct {
	db *sql.DB
}

// New builds a Catalog.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// GetShowByLink returns the show for an IMDB link, or nil if absent.
func (c *Catalog) GetShowByLink(link string) (*models.ImdbShow, error) {
	row := c.db.QueryRow(
		`SELECT id, show, title, link, rating, istv, source, last_modified FROM imdb_shows WHERE link = $1`,
		link,
	)
	show, err := scanShow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return show, err
}

// UpsertShow inserts show if its link is absent, else updates the mutable
// fields in place (spec §4.3: "insert-if-absent-else-update... by link for
// shows").
func (c *Catalog) UpsertShow(show *models.ImdbShow) error {
	existing, err := c.GetShowByLink(show.Link)
	if err != nil {
		return err
	}
	if existing == nil {
		if show.ID == uuid.Nil {
			show.ID = uuid.New()
		}
		_, err := c.db.Exec(
			`INSERT INTO imdb_shows (id, show, title, link, rating, istv, source, last_modified)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			show.ID, show.Show, show.Title, show.Link, show.Rating, show.IsTV, show.Source,
		)
		return err
	}
	show.ID = existing.ID
	_, err = c.db.Exec(
		`UPDATE imdb_shows SET title = $1, rating = $2, istv = $3, source = $4, last_modified = now() WHERE link = $5`,
		show.Title, show.Rating, show.IsTV, show.Source, show.Link,
	)
	return err
}

// GetEpisode returns the episode for (show, season, episode), or nil.
func (c *Catalog) GetEpisode(show string, season, episode int) (*models.ImdbEpisode, error) {
	row := c.db.QueryRow(
		`SELECT id, show, season, episode, airdate, rating, eptitle, epurl, last_modified
		 FROM imdb_episodes WHERE show = $1 AND season = $2 AND episode = $3`,
		show, season, episode,
	)
	ep, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ep, err
}

// UpsertEpisode inserts or, on a natural-key collision, updates the episode
// (spec §4.3, §8 "Upsert round-trip" property).
func (c *Catalog) UpsertEpisode(ep *models.ImdbEpisode) error {
	existing, err := c.GetEpisode(ep.Show, ep.Season, ep.Episode)
	if err != nil {
		return err
	}
	if existing == nil {
		if ep.ID == uuid.Nil {
			ep.ID = uuid.New()
		}
		_, err := c.db.Exec(
			`INSERT INTO imdb_episodes (id, show, season, episode, airdate, rating, eptitle, epurl, last_modified)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
			ep.ID, ep.Show, ep.Season, ep.Episode, ep.AirDate, ep.Rating, ep.EpTitle, ep.EpURL,
		)
		return err
	}
	ep.ID = existing.ID
	_, err = c.db.Exec(
		`UPDATE imdb_episodes SET rating = $1, eptitle = $2, epurl = $3, airdate = $4, last_modified = now()
		 WHERE show = $5 AND season = $6 AND episode = $7`,
		ep.Rating, ep.EpTitle, ep.EpURL, ep.AirDate, ep.Show, ep.Season, ep.Episode,
	)
	return err
}

// GetSeasons returns a grouped distinct-episode count per season for show
// (spec §4.3; SPEC_FULL supplement 4).
func (c *Catalog) GetSeasons(show string) ([]models.ImdbSeason, error) {
	rows, err := c.db.Query(`
		SELECT a.show, b.title, a.season, count(DISTINCT a.episode) AS nepisodes
		FROM imdb_episodes a
		JOIN imdb_shows b ON a.show = b.show
		WHERE a.show = $1
		GROUP BY a.show, b.title, a.season
		ORDER BY a.season
	`, show)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ImdbSeason
	for rows.Next() {
		var s models.ImdbSeason
		if err := rows.Scan(&s.Show, &s.Title, &s.Season, &s.NEpisodes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListEpisodesChangedSince streams episodes with last_modified >= since.
func (c *Catalog) ListEpisodesChangedSince(since time.Time) ([]models.ImdbEpisode, error) {
	rows, err := c.db.Query(
		`SELECT id, show, season, episode, airdate, rating, eptitle, epurl, last_modified
		 FROM imdb_episodes WHERE last_modified >= $1`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ImdbEpisode
	for rows.Next() {
		var e models.ImdbEpisode
		if err := rows.Scan(&e.ID, &e.Show, &e.Season, &e.Episode, &e.AirDate, &e.Rating, &e.EpTitle, &e.EpURL, &e.LastModified); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SourceFilter is the three-way streaming-source filter from spec §4.3
// (SPEC_FULL supplement 3): exactly one of Equals, All, or Unset applies.
type SourceFilter struct {
	kind  sourceFilterKind
	value models.TvShowSource
}

type sourceFilterKind int

const (
	filterEquals sourceFilterKind = iota
	filterAll
	filterUnset
)

// FilterBySource matches shows whose source equals s exactly.
func FilterBySource(s models.TvShowSource) SourceFilter {
	return SourceFilter{kind: filterEquals, value: s}
}

// FilterAllSources matches every show regardless of source.
func FilterAllSources() SourceFilter { return SourceFilter{kind: filterAll} }

// FilterUnsetSource matches only shows with a null source.
func FilterUnsetSource() SourceFilter { return SourceFilter{kind: filterUnset} }

// NewEpisodesWindow returns [today-14d, today+7d] in loc, the fixed window
// spec §4.3 mandates for GetNewEpisodes.
func NewEpisodesWindow(now time.Time, loc *time.Location) (min, max time.Time) {
	local := now.In(loc)
	min = local.AddDate(0, 0, -14)
	max = local.AddDate(0, 0, 7)
	return min, max
}

// GetNewEpisodes returns, for every catalog show that is active (has at
// least one queued collection entry or sits on the watchlist), every
// episode whose airdate falls in [mindate, maxdate] and is not present in
// WatchedEpisode (spec §4.3). Tie-break order: airdate, show, season,
// episode. Each result's AlreadyQueued is set by cross-referencing the
// current Queue (SPEC_FULL supplement 1, mirroring find_new_episodes in
// movie_collection.rs:789) rather than dropping already-queued episodes
// from the result the way the original does.
func (c *Catalog) GetNewEpisodes(mindate, maxdate time.Time, filter SourceFilter) ([]models.NewEpisodeResult, error) {
	query := `
		WITH active_links AS (
			SELECT DISTINCT c.link
			FROM queue_entries a
			JOIN collection_entries b ON a.collection_id = b.id
			JOIN imdb_shows c ON b.show_id = c.id
			JOIN imdb_episodes d ON c.show = d.show
			UNION
			SELECT link FROM trakt_watchlist
		)
		SELECT c.show, c.link, c.title, d.season, d.episode, d.epurl, d.airdate,
		       c.rating, d.rating, d.eptitle
		FROM imdb_shows c
		JOIN imdb_episodes d ON c.show = d.show
		LEFT JOIN trakt_watched_episodes e
			ON c.link = e.link AND d.season = e.season AND d.episode = e.episode
		WHERE c.link IN (SELECT link FROM active_links)
		  AND e.episode IS NULL
		  AND c.istv
		  AND d.airdate >= $1 AND d.airdate <= $2
	`
	args := []interface{}{mindate, maxdate}
	switch filter.kind {
	case filterAll:
		// no additional predicate
	case filterEquals:
		query += " AND c.source = $3"
		args = append(args, filter.value)
	case filterUnset:
		query += " AND c.source IS NULL"
	default:
		return nil, fmt.Errorf("unknown source filter kind %d", filter.kind)
	}
	query += " ORDER BY d.airdate, c.show, d.season, d.episode"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NewEpisodeResult
	for rows.Next() {
		var r models.NewEpisodeResult
		if err := rows.Scan(&r.Show, &r.Link, &r.Title, &r.Season, &r.Episode, &r.EpURL,
			&r.AirDate, &r.ShowRating, &r.EpisodeRating, &r.EpTitle); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	queued, err := c.queuedEpisodes()
	if err != nil {
		return nil, err
	}
	for i := range out {
		key := queuedEpisodeKey{show: out[i].Show, season: out[i].Season, episode: out[i].Episode}
		out[i].AlreadyQueued = queued[key]
	}
	return out, nil
}

// queuedEpisodeKey identifies a queued TV episode by its parsed
// (show, season, episode) tuple.
type queuedEpisodeKey struct {
	show    string
	season  int
	episode int
}

// queuedEpisodes returns the set of (show, season, episode) tuples
// currently sitting in the playback queue, parsed from each live queued
// entry's filename per the spec §3/§6 grammar. GetNewEpisodes uses this to
// populate AlreadyQueued (SPEC_FULL supplement 1) in one query instead of
// the original's per-episode linear scan over the queue.
func (c *Catalog) queuedEpisodes() (map[queuedEpisodeKey]bool, error) {
	rows, err := c.db.Query(`
		SELECT b.path
		FROM queue_entries a
		JOIN collection_entries b ON a.collection_id = b.id
		WHERE b.is_deleted = false
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[queuedEpisodeKey]bool)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if key, ok := episodeKeyFromPath(path); ok {
			set[key] = true
		}
	}
	return set, rows.Err()
}

// episodeKeyFromPath parses path's filename per the spec §3/§6 grammar into
// a queuedEpisodeKey. ok is false for movies (no season/episode tokens).
func episodeKeyFromPath(path string) (key queuedEpisodeKey, ok bool) {
	stem := path
	if idx := strings.LastIndexByte(stem, '/'); idx >= 0 {
		stem = stem[idx+1:]
	}
	if idx := strings.LastIndexByte(stem, '.'); idx >= 0 {
		stem = stem[:idx]
	}
	parsed := scanner.ParseFileStem(stem)
	if parsed.Season < 0 || parsed.Episode < 0 {
		return queuedEpisodeKey{}, false
	}
	return queuedEpisodeKey{show: parsed.Show, season: parsed.Season, episode: parsed.Episode}, true
}

func scanShow(row *sql.Row) (*models.ImdbShow, error) {
	s := &models.ImdbShow{}
	err := row.Scan(&s.ID, &s.Show, &s.Title, &s.Link, &s.Rating, &s.IsTV, &s.Source, &s.LastModified)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanEpisode(row *sql.Row) (*models.ImdbEpisode, error) {
	e := &models.ImdbEpisode{}
	err := row.Scan(&e.ID, &e.Show, &e.Season, &e.Episode, &e.AirDate, &e.Rating, &e.EpTitle, &e.EpURL, &e.LastModified)
	if err != nil {
		return nil, err
	}
	return e, nil
}
