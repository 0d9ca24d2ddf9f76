// Package trakt implements Trakt Sync (spec §4.6): pulling the remote
// watchlist/watched state into the local catalog, pushing local actions
// back out, and fetching the upcoming-episode calendar. Grounded on
// movie_collection_lib/src/trakt_utils.rs for the pull/push semantics
// (watchlist and watched-episodes are remote-authoritative for inserts
// only; watched movies additionally sync deletions) and on the teacher's
// internal/auth OIDC provider for the RWMutex-guarded oauth2.Config /
// oauth2.Token holder pattern.
package trakt

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/ddboline/movie-collection-go/internal/config"
	"github.com/ddboline/movie-collection-go/internal/models"
)

const apiBase = "https://api.trakt.tv"

// TokenStore holds the OAuth2 client/token pair behind a RWMutex. Consumers
// call Client() to get an *http.Client bound to a snapshot of the current
// token; refreshing the held token never races a caller mid-request (spec
// §9: "a single mutable OAuth token shared across requests" redesign).
type TokenStore struct {
	mu     sync.RWMutex
	oauth  oauth2.Config
	token  *oauth2.Token
}

// NewTokenStore builds a TokenStore from client configuration and an
// already-obtained token (spec §4.6 assumes a pre-authorized client; the
// core never runs the authorization-code flow itself).
func NewTokenStore(cfg config.Trakt, token *oauth2.Token) *TokenStore {
	return &TokenStore{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  apiBase + "/oauth/authorize",
				TokenURL: apiBase + "/oauth/token",
			},
		},
		token: token,
	}
}

// SetToken replaces the held token, e.g. after an out-of-band refresh.
func (s *TokenStore) SetToken(token *oauth2.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Client returns an *http.Client bound to a snapshot of the current token,
// so token rotation never mutates a client mid-flight.
func (s *TokenStore) Client(ctx context.Context) *http.Client {
	s.mu.RLock()
	tok := *s.token
	oauthCfg := s.oauth
	s.mu.RUnlock()
	return oauthCfg.Client(ctx, &tok)
}

// Sync is the Trakt Sync repository.
type Sync struct {
	db         *sql.DB
	tokens     *TokenStore
	clientID   string
}

// New builds a Sync.
func New(db *sql.DB, tokens *TokenStore, clientID string) *Sync {
	return &Sync{db: db, tokens: tokens, clientID: clientID}
}

func (s *Sync) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", s.clientID)

	resp, err := s.tokens.Client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("trakt GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trakt GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ──────────────────── Remote wire shapes ────────────────────

type remoteShow struct {
	Show struct {
		Title string `json:"title"`
		Year  int    `json:"year"`
		IDs   struct {
			IMDB string `json:"imdb"`
		} `json:"ids"`
	} `json:"show"`
}

type remoteEpisode struct {
	Episode struct {
		Season int `json:"season"`
		Number int `json:"number"`
	} `json:"episode"`
	Show struct {
		IDs struct {
			IMDB string `json:"imdb"`
		} `json:"ids"`
	} `json:"show"`
}

type remoteMovie struct {
	Movie struct {
		IDs struct {
			IMDB string `json:"imdb"`
		} `json:"ids"`
	} `json:"movie"`
}

func imdbLink(id string) string {
	if id == "" {
		return ""
	}
	return "https://www.imdb.com/title/" + id
}

// ──────────────────── Watchlist ────────────────────

// PullWatchlist fetches the remote watchlist and inserts any show not
// already present locally (spec §4.6: "remote-authoritative, insert-only").
// Returns the number of shows inserted.
func (s *Sync) PullWatchlist(ctx context.Context) (int, error) {
	var remote []remoteShow
	if err := s.get(ctx, "/sync/watchlist/shows", &remote); err != nil {
		return 0, err
	}

	inserted := 0
	for _, r := range remote {
		link := imdbLink(r.Show.IDs.IMDB)
		if link == "" {
			continue
		}
		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM trakt_watchlist WHERE link = $1)`, link).Scan(&exists)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		_, err = s.db.Exec(
			`INSERT INTO trakt_watchlist (link, title, year) VALUES ($1, $2, $3)`,
			link, r.Show.Title, r.Show.Year,
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// PushWatchlistAction applies a local add/remove/list action to the remote
// watchlist and mirrors the result locally (spec §4.6).
func (s *Sync) PushWatchlistAction(ctx context.Context, action models.TraktActionType, link string) error {
	switch action {
	case models.TraktActionAdd:
		if err := s.postIDs(ctx, "/sync/watchlist", link, ""); err != nil {
			return err
		}
		_, err := s.db.Exec(
			`INSERT INTO trakt_watchlist (link, title, year) VALUES ($1, '', 0) ON CONFLICT (link) DO NOTHING`,
			link,
		)
		return err
	case models.TraktActionRemove:
		if err := s.postIDs(ctx, "/sync/watchlist/remove", link, ""); err != nil {
			return err
		}
		_, err := s.db.Exec(`DELETE FROM trakt_watchlist WHERE link = $1`, link)
		return err
	case models.TraktActionList, models.TraktActionNone:
		return nil
	default:
		return fmt.Errorf("unknown trakt action %q", action)
	}
}

func (s *Sync) postIDs(ctx context.Context, path, link, extra string) error {
	body := fmt.Sprintf(`{"shows":[{"ids":{"imdb":%q}}]}`, imdbID(link))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path, jsonBody(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", s.clientID)

	resp, err := s.tokens.Client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("trakt POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trakt POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}

func imdbID(link string) string {
	const prefix = "https://www.imdb.com/title/"
	if len(link) > len(prefix) && link[:len(prefix)] == prefix {
		return link[len(prefix):]
	}
	return link
}

// ──────────────────── Watched episodes/movies ────────────────────

// PullWatchedEpisodes mirrors remote watched episodes into the local log,
// insert-only (spec §4.6).
func (s *Sync) PullWatchedEpisodes(ctx context.Context) (int, error) {
	var remote []remoteEpisode
	if err := s.get(ctx, "/sync/history/episodes", &remote); err != nil {
		return 0, err
	}

	inserted := 0
	for _, r := range remote {
		link := imdbLink(r.Show.IDs.IMDB)
		if link == "" {
			continue
		}
		var exists bool
		err := s.db.QueryRow(
			`SELECT EXISTS(SELECT 1 FROM trakt_watched_episodes WHERE link = $1 AND season = $2 AND episode = $3)`,
			link, r.Episode.Season, r.Episode.Number,
		).Scan(&exists)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		_, err = s.db.Exec(
			`INSERT INTO trakt_watched_episodes (link, season, episode) VALUES ($1, $2, $3)`,
			link, r.Episode.Season, r.Episode.Number,
		)
		if err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// PullWatchedMovies mirrors remote watched movies into the local log.
// Unlike episodes and the watchlist, this sync is fully bidirectional: a
// movie present locally but absent remotely is deleted (spec §4.6 — only
// watched movies carry authoritative-remote deletion semantics). Returns
// (inserted, deleted).
func (s *Sync) PullWatchedMovies(ctx context.Context) (int, int, error) {
	var remote []remoteMovie
	if err := s.get(ctx, "/sync/history/movies", &remote); err != nil {
		return 0, 0, err
	}

	remoteLinks := make(map[string]bool, len(remote))
	inserted := 0
	for _, r := range remote {
		link := imdbLink(r.Movie.IDs.IMDB)
		if link == "" {
			continue
		}
		remoteLinks[link] = true

		var exists bool
		err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM trakt_watched_movies WHERE link = $1)`, link).Scan(&exists)
		if err != nil {
			return inserted, 0, err
		}
		if exists {
			continue
		}
		if _, err := s.db.Exec(`INSERT INTO trakt_watched_movies (link) VALUES ($1)`, link); err != nil {
			return inserted, 0, err
		}
		inserted++
	}

	rows, err := s.db.Query(`SELECT link FROM trakt_watched_movies`)
	if err != nil {
		return inserted, 0, err
	}
	var toDelete []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			rows.Close()
			return inserted, 0, err
		}
		if !remoteLinks[link] {
			toDelete = append(toDelete, link)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return inserted, 0, err
	}

	deleted := 0
	for _, link := range toDelete {
		if _, err := s.db.Exec(`DELETE FROM trakt_watched_movies WHERE link = $1`, link); err != nil {
			return inserted, deleted, err
		}
		deleted++
	}
	return inserted, deleted, nil
}

// PushWatchedAction applies a local watched add/remove action, for either
// an episode (season/episode >= 0) or a movie (season, episode both -1).
func (s *Sync) PushWatchedAction(ctx context.Context, action models.TraktActionType, link string, season, episode int) error {
	isMovie := season < 0 && episode < 0

	var path string
	switch action {
	case models.TraktActionAdd:
		path = "/sync/history"
	case models.TraktActionRemove:
		path = "/sync/history/remove"
	case models.TraktActionList, models.TraktActionNone:
		return nil
	default:
		return fmt.Errorf("unknown trakt action %q", action)
	}

	var body string
	if isMovie {
		body = fmt.Sprintf(`{"movies":[{"ids":{"imdb":%q}}]}`, imdbID(link))
	} else {
		body = fmt.Sprintf(`{"episodes":[{"ids":{"imdb":%q},"season":%d,"number":%d}]}`, imdbID(link), season, episode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiBase+path, jsonBody(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", "2")
	req.Header.Set("trakt-api-key", s.clientID)

	resp, err := s.tokens.Client(ctx).Do(req)
	if err != nil {
		return fmt.Errorf("trakt POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("trakt POST %s: status %d", path, resp.StatusCode)
	}

	switch {
	case isMovie && action == models.TraktActionAdd:
		_, err = s.db.Exec(`INSERT INTO trakt_watched_movies (link) VALUES ($1) ON CONFLICT (link) DO NOTHING`, link)
	case isMovie && action == models.TraktActionRemove:
		_, err = s.db.Exec(`DELETE FROM trakt_watched_movies WHERE link = $1`, link)
	case !isMovie && action == models.TraktActionAdd:
		_, err = s.db.Exec(
			`INSERT INTO trakt_watched_episodes (link, season, episode) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			link, season, episode,
		)
	case !isMovie && action == models.TraktActionRemove:
		_, err = s.db.Exec(`DELETE FROM trakt_watched_episodes WHERE link = $1 AND season = $2 AND episode = $3`, link, season, episode)
	}
	return err
}

// ──────────────────── Calendar ────────────────────

type remoteCalendarEntry struct {
	Episode struct {
		Season int    `json:"season"`
		Number int     `json:"number"`
	} `json:"episode"`
	Show struct {
		Title string `json:"title"`
		IDs   struct {
			IMDB string `json:"imdb"`
		} `json:"ids"`
	} `json:"show"`
	FirstAired string `json:"first_aired"`
}

// FetchCalendar pulls the "my shows" calendar for the 33-day window Trakt
// serves from startDate, joined against the local catalog: EpLink is set
// only when the episode is missing from ImdbEpisode (spec §4.6).
func (s *Sync) FetchCalendar(ctx context.Context, startDate time.Time) ([]models.CalendarEntry, error) {
	path := fmt.Sprintf("/calendars/my/shows/%s/33", startDate.Format("2006-01-02"))
	var remote []remoteCalendarEntry
	if err := s.get(ctx, path, &remote); err != nil {
		return nil, err
	}

	var out []models.CalendarEntry
	for _, r := range remote {
		link := imdbLink(r.Show.IDs.IMDB)
		airDate, err := time.Parse(time.RFC3339, r.FirstAired)
		if err != nil {
			continue
		}
		entry := models.CalendarEntry{
			Show:    r.Show.Title,
			Link:    link,
			Season:  r.Episode.Season,
			Episode: r.Episode.Number,
			AirDate: airDate,
		}

		var epURL string
		err = s.db.QueryRow(
			`SELECT d.epurl FROM imdb_shows c JOIN imdb_episodes d ON c.show = d.show
			 WHERE c.link = $1 AND d.season = $2 AND d.episode = $3`,
			link, r.Episode.Season, r.Episode.Number,
		).Scan(&epURL)
		if err == sql.ErrNoRows {
			entry.EpLink = &link
		} else if err != nil {
			return out, err
		}

		out = append(out, entry)
	}
	return out, nil
}

func jsonBody(s string) *strings.Reader { return strings.NewReader(s) }
