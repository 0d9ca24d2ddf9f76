// Package models holds the entity types shared across repositories,
// following the teacher's single internal/models package layout.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ──────────────────── Collection ────────────────────

// CollectionEntry is a file known (or formerly known) to exist on disk.
// See spec §3: path is unique among live (non-deleted) entries; the row is
// never hard-deleted so cross-references stay resolvable.
type CollectionEntry struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Path         string     `json:"path" db:"path"`
	Show         string     `json:"show" db:"show"`
	ShowID       *uuid.UUID `json:"show_id,omitempty" db:"show_id"`
	IsDeleted    bool       `json:"is_deleted" db:"is_deleted"`
	LastModified time.Time  `json:"last_modified" db:"last_modified"`
}

// ──────────────────── Queue ────────────────────

// QueueEntry is a dense-indexed position in the user-visible playback queue.
// Invariant: positions are contiguous and unique (spec §3, §4.4).
type QueueEntry struct {
	Idx          int       `json:"idx" db:"idx"`
	CollectionID uuid.UUID `json:"collection_id" db:"collection_id"`
	LastModified time.Time `json:"last_modified" db:"last_modified"`
}

// QueueResult is a queue row joined with catalog and collection data for
// display, mirroring MovieQueueResult in the original implementation.
type QueueResult struct {
	Idx     int        `json:"idx"`
	Path    string     `json:"path"`
	Link    *string    `json:"link,omitempty"`
	IsTV    bool        `json:"istv"`
	Show    *string    `json:"show,omitempty"`
	EpLink  *string    `json:"eplink,omitempty"`
	Season  *int       `json:"season,omitempty"`
	Episode *int       `json:"episode,omitempty"`
}

// ──────────────────── IMDB Catalog ────────────────────

// TvShowSource is the streaming-source tag on an ImdbShow (spec §3, §4.3).
type TvShowSource string

const (
	SourceNetflix TvShowSource = "netflix"
	SourceHulu    TvShowSource = "hulu"
	SourceAmazon  TvShowSource = "amazon"
	SourceAll     TvShowSource = "all"
)

// ImdbShow is a catalog entry for a movie or TV show.
type ImdbShow struct {
	ID           uuid.UUID     `json:"id" db:"id"`
	Show         string        `json:"show" db:"show"`
	Title        string        `json:"title" db:"title"`
	Link         string        `json:"link" db:"link"`
	Rating       float64       `json:"rating" db:"rating"`
	IsTV         bool          `json:"istv" db:"istv"`
	Source       *TvShowSource `json:"source,omitempty" db:"source"`
	LastModified time.Time     `json:"last_modified" db:"last_modified"`
}

// ImdbEpisode is a catalog entry for a single TV episode, natural-keyed by
// (show, season, episode).
type ImdbEpisode struct {
	ID           uuid.UUID `json:"id" db:"id"`
	Show         string    `json:"show" db:"show"`
	Season       int       `json:"season" db:"season"`
	Episode      int       `json:"episode" db:"episode"`
	AirDate      time.Time `json:"airdate" db:"airdate"`
	Rating       float64   `json:"rating" db:"rating"`
	EpTitle      string    `json:"eptitle" db:"eptitle"`
	EpURL        string    `json:"epurl" db:"epurl"`
	LastModified time.Time `json:"last_modified" db:"last_modified"`
}

// ImdbSeason is a grouped season summary returned by
// imdbcatalog.Catalog.GetSeasons (SPEC_FULL supplement 4). The
// Reconciliation Pass's orphan-episode diagnostic does not use it.
type ImdbSeason struct {
	Show      string `json:"show"`
	Title     string `json:"title"`
	Season    int    `json:"season"`
	NEpisodes int    `json:"nepisodes"`
}

// NewEpisodeResult is a single row returned by ImdbCatalog.GetNewEpisodes
// (spec §4.3), extended per SPEC_FULL supplement 1 with AlreadyQueued.
type NewEpisodeResult struct {
	Show          string    `json:"show"`
	Link          string    `json:"link"`
	Title         string    `json:"title"`
	Season        int       `json:"season"`
	Episode       int       `json:"episode"`
	EpURL         string    `json:"epurl"`
	AirDate       time.Time `json:"airdate"`
	ShowRating    float64   `json:"rating"`
	EpisodeRating float64   `json:"eprating"`
	EpTitle       string    `json:"eptitle"`
	AlreadyQueued bool      `json:"already_queued"`
}

// ──────────────────── Trakt ────────────────────

// WatchlistShow mirrors a subset of remote Trakt watchlist state.
type WatchlistShow struct {
	Link string `json:"link" db:"link"`
	Title string `json:"title" db:"title"`
	Year  int    `json:"year" db:"year"`
}

// WatchedEpisode is a flat log of viewed episodes.
type WatchedEpisode struct {
	Link    string `json:"link" db:"link"`
	Season  int    `json:"season" db:"season"`
	Episode int    `json:"episode" db:"episode"`
}

// WatchedMovie is a flat log of viewed movies.
type WatchedMovie struct {
	Link string `json:"link" db:"link"`
}

// CalendarEntry is a single row returned by Trakt's "my shows" calendar,
// joined against the local catalog (spec §4.6).
type CalendarEntry struct {
	Show    string
	Link    string
	Season  int
	Episode int
	AirDate time.Time
	// EpLink is nil when the local catalog already has this episode
	// recorded; otherwise it points at the episode that needs updating.
	EpLink *string
}

// TraktActionType and TraktScope drive the single push-action entry point
// described in spec §4.6.
type TraktActionType string

const (
	TraktActionNone   TraktActionType = "none"
	TraktActionList   TraktActionType = "list"
	TraktActionAdd    TraktActionType = "add"
	TraktActionRemove TraktActionType = "remove"
)

type TraktScope string

const (
	TraktScopeCalendar  TraktScope = "calendar"
	TraktScopeWatchlist TraktScope = "watchlist"
	TraktScopeWatched   TraktScope = "watched"
)

// ──────────────────── Plex ────────────────────

// PlexEventType enumerates the webhook event kinds from spec §6.
type PlexEventType string

const (
	PlexEventLibraryOnDeck      PlexEventType = "library.on.deck"
	PlexEventLibraryNew         PlexEventType = "library.new"
	PlexEventMediaPause         PlexEventType = "media.pause"
	PlexEventMediaPlay          PlexEventType = "media.play"
	PlexEventMediaRate          PlexEventType = "media.rate"
	PlexEventMediaResume        PlexEventType = "media.resume"
	PlexEventMediaScrobble      PlexEventType = "media.scrobble"
	PlexEventMediaStop          PlexEventType = "media.stop"
	PlexEventAdminDBBackup      PlexEventType = "admin.database.backup"
	PlexEventAdminDBCorrupted   PlexEventType = "admin.database.corrupted"
	PlexEventDeviceNew          PlexEventType = "device.new"
	PlexEventPlaybackStarted    PlexEventType = "playback.started"
)

// PlexSectionType enumerates the library section kinds from spec §6.
type PlexSectionType string

const (
	SectionMusic  PlexSectionType = "Music"
	SectionMovie  PlexSectionType = "Movie"
	SectionTVShow PlexSectionType = "TvShow"
)

// SectionTypeFromXML maps the Plex XML section-type attribute to the
// section enum (spec §6): artist -> Music, movie -> Movie, show -> TvShow.
func SectionTypeFromXML(xmlType string) (PlexSectionType, bool) {
	switch xmlType {
	case "artist":
		return SectionMusic, true
	case "movie":
		return SectionMovie, true
	case "show":
		return SectionTVShow, true
	default:
		return "", false
	}
}

// PlexEvent is an immutable ingested webhook event.
type PlexEvent struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	Event           PlexEventType   `json:"event" db:"event"`
	Account         string          `json:"account" db:"account"`
	Server          string          `json:"server" db:"server"`
	Player          string          `json:"player" db:"player"`
	PlayerAddress   string          `json:"player_address" db:"player_address"`
	Title           string          `json:"title" db:"title"`
	ParentTitle     string          `json:"parent_title" db:"parent_title"`
	GrandparentTitle string         `json:"grandparent_title" db:"grandparent_title"`
	Section         PlexSectionType `json:"section" db:"section"`
	MetadataKey     *string         `json:"metadata_key,omitempty" db:"metadata_key"`
	AddedAt         *time.Time      `json:"added_at,omitempty" db:"added_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty" db:"updated_at"`
	LastModified    time.Time       `json:"last_modified" db:"last_modified"`
}

// PlexFilename resolves an opaque Plex metadata key to the filesystem path
// Plex reports for it, optionally linked to a CollectionEntry.
type PlexFilename struct {
	MetadataKey  string     `json:"metadata_key" db:"metadata_key"`
	Filename     string     `json:"filename" db:"filename"`
	CollectionID *uuid.UUID `json:"collection_id,omitempty" db:"collection_id"`
}

// PlexObjectType enumerates the XML tag names used to build PlexMetadata
// rows (spec §6).
type PlexObjectType string

const (
	PlexObjectVideo     PlexObjectType = "video"
	PlexObjectDirectory PlexObjectType = "directory"
	PlexObjectTrack     PlexObjectType = "track"
)

// PlexMetadata is one node in the 3-level parent/grandparent metadata tree
// (show -> season -> episode).
type PlexMetadata struct {
	MetadataKey    string         `json:"metadata_key" db:"metadata_key"`
	ObjectType     PlexObjectType `json:"object_type" db:"object_type"`
	Title          string         `json:"title" db:"title"`
	ParentKey      *string        `json:"parent_key,omitempty" db:"parent_key"`
	GrandparentKey *string        `json:"grandparent_key,omitempty" db:"grandparent_key"`
	Show           *string        `json:"show,omitempty" db:"show"`
}

// ──────────────────── Transcode ────────────────────

// JobType distinguishes a transcode request from a post-transcode move
// (spec §3, §4.8; "remcom" is the original's historical name for Move).
type JobType string

const (
	JobTranscode JobType = "Transcode"
	JobMove      JobType = "Move"
)

// TranscodeJob is the on-disk job descriptor (spec §3, §6): materialized as
// JSON in the jobs directory and consumed-then-deleted by the worker.
type TranscodeJob struct {
	JobType    JobType `json:"job_type"`
	Prefix     string  `json:"prefix"`
	InputPath  string  `json:"input_path"`
	OutputPath string  `json:"output_path"`
}

// ProcInfo describes a running encoder process (spec §4.8).
type ProcInfo struct {
	PID  int32    `json:"pid"`
	Name string   `json:"name"`
	Exe  string   `json:"exe"`
	Args []string `json:"args"`
}

// ProcStatus is the derived status of a job, keyed by normalized prefix.
type ProcStatus string

const (
	StatusUpcoming ProcStatus = "Upcoming"
	StatusCurrent  ProcStatus = "Current"
	StatusFinished ProcStatus = "Finished"
)

// CurrentJob pairs an in-progress log file with its last non-empty line.
type CurrentJob struct {
	Path        string `json:"path"`
	LastLine    string `json:"last_line"`
}

// TranscodeStatus is the full status view (spec §4.8).
type TranscodeStatus struct {
	Procs         []ProcInfo     `json:"procs"`
	UpcomingJobs  []TranscodeJob `json:"upcoming_jobs"`
	CurrentJobs   []CurrentJob   `json:"current_jobs"`
	FinishedJobs  []string       `json:"finished_jobs"`
}

// ProcMap returns, for every job prefix this status view knows about, which
// of Upcoming/Current/Finished it is in (SPEC_FULL supplement 5). Finished
// entries are inserted first and may be overwritten by Upcoming/Current,
// matching the original's `finished.chain(upcoming).chain(current)` order
// where later entries win on key collision.
func (s TranscodeStatus) ProcMap() map[string]ProcStatus {
	out := make(map[string]ProcStatus)
	for _, p := range s.FinishedJobs {
		out[normalizePrefix(p)] = StatusFinished
	}
	for _, j := range s.UpcomingJobs {
		out[normalizePrefix(j.InputPath)] = StatusUpcoming
	}
	for _, c := range s.CurrentJobs {
		out[normalizePrefix(c.Path)] = StatusCurrent
	}
	return out
}

var prefixSuffixes = []string{"_mp4.out", "_copy.out", ".mkv", ".m4v", ".avi", ".mp4"}

func normalizePrefix(path string) string {
	name := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			name = path[i+1:]
			break
		}
	}
	for _, suf := range prefixSuffixes {
		if len(name) > len(suf) && name[len(name)-len(suf):] == suf {
			return name[:len(name)-len(suf)]
		}
	}
	return name
}
