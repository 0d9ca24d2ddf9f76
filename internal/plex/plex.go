// Package plex implements the Plex Index (spec §4.5): webhook ingest, Plex
// HTTP API filename resolution, the parent/grandparent metadata tree, and
// the show-token back-fill/broken-link-sweep/repair passes. Grounded on
// movie_collection_lib/src/plex_events.rs for exact semantics (the
// {host}:32400{key}?X-Plex-Token=... URL shape, the /shares/ -> /media/
// substitution) and on the teacher's internal/watcher style for the
// idempotent background-pass shape.
package plex

import (
	"database/sql"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ddboline/movie-collection-go/internal/config"
	"github.com/ddboline/movie-collection-go/internal/models"
)

// Index is the Plex Index repository plus its HTTP client for the Plex
// metadata API.
type Index struct {
	db     *sql.DB
	host   string
	token  string
	client *http.Client
	mapper PathMapper
}

// PathMapper rewrites a Plex-reported path into a collection-root path
// (spec §6, §9 open question; SPEC_FULL supplement 6 makes this
// configurable instead of hard-coded).
type PathMapper struct {
	Mappings []config.PathMapping
}

// Apply rewrites path using the first matching prefix mapping, or returns
// path unchanged if none match.
func (m PathMapper) Apply(path string) string {
	for _, mapping := range m.Mappings {
		if strings.HasPrefix(path, mapping.Prefix) {
			return mapping.Replacement + strings.TrimPrefix(path, mapping.Prefix)
		}
	}
	return path
}

// New builds an Index.
func New(db *sql.DB, cfg config.Plex) *Index {
	return &Index{
		db:     db,
		host:   cfg.Host,
		token:  cfg.Token,
		client: &http.Client{Timeout: 30 * time.Second},
		mapper: PathMapper{Mappings: cfg.PathMappings},
	}
}

// WebhookPayload is the shape of a Plex webhook POST body (spec §4.5, §6).
type WebhookPayload struct {
	Event   string `json:"event"`
	Account struct {
		Title string `json:"title"`
	} `json:"Account"`
	Server struct {
		Title string `json:"title"`
	} `json:"Server"`
	Player struct {
		Title   string `json:"title"`
		Address string `json:"address"`
	} `json:"Player"`
	Metadata struct {
		Title            string `json:"title"`
		ParentTitle      string `json:"parentTitle"`
		GrandparentTitle string `json:"grandparentTitle"`
		Type             string `json:"type"`
		Key              string `json:"key"`
		AddedAt          *int64 `json:"addedAt"`
		UpdatedAt        *int64 `json:"updatedAt"`
	} `json:"Metadata"`
}

// IngestWebhook translates a webhook payload's event-kind enum, converts
// its Unix timestamps to absolute time, and persists it as a PlexEvent
// (spec §4.5).
func (idx *Index) IngestWebhook(p WebhookPayload) (*models.PlexEvent, error) {
	section, _ := models.SectionTypeFromXML(p.Metadata.Type)

	event := &models.PlexEvent{
		ID:               uuid.New(),
		Event:            models.PlexEventType(p.Event),
		Account:          p.Account.Title,
		Server:           p.Server.Title,
		Player:           p.Player.Title,
		PlayerAddress:    p.Player.Address,
		Title:            p.Metadata.Title,
		ParentTitle:      p.Metadata.ParentTitle,
		GrandparentTitle: p.Metadata.GrandparentTitle,
		Section:          section,
	}
	if p.Metadata.Key != "" {
		key := p.Metadata.Key
		event.MetadataKey = &key
	}
	if p.Metadata.AddedAt != nil {
		t := time.Unix(*p.Metadata.AddedAt, 0).UTC()
		event.AddedAt = &t
	}
	if p.Metadata.UpdatedAt != nil {
		t := time.Unix(*p.Metadata.UpdatedAt, 0).UTC()
		event.UpdatedAt = &t
	}

	_, err := idx.db.Exec(`
		INSERT INTO plex_events (id, event, account, server, player, player_address, title,
		                          parent_title, grandparent_title, section, metadata_key,
		                          added_at, updated_at, last_modified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
	`, event.ID, event.Event, event.Account, event.Server, event.Player, event.PlayerAddress,
		event.Title, event.ParentTitle, event.GrandparentTitle, event.Section, event.MetadataKey,
		event.AddedAt, event.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert plex event: %w", err)
	}
	return event, nil
}

// ──────────────────── Plex XML ────────────────────

// mediaContainer mirrors the handful of attributes the core reads out of a
// Plex metadata XML response (spec §6).
type mediaContainer struct {
	XMLName   xml.Name    `xml:"MediaContainer"`
	Video     []plexNode  `xml:"Video"`
	Directory []plexNode  `xml:"Directory"`
	Track     []plexNode  `xml:"Track"`
}

type plexNode struct {
	Key            string     `xml:"key,attr"`
	Title          string     `xml:"title,attr"`
	ParentKey      string     `xml:"parentKey,attr"`
	GrandparentKey string     `xml:"grandparentKey,attr"`
	File           string     `xml:"file,attr"`
	Media          []plexMedia `xml:"Media"`
}

type plexMedia struct {
	Part []plexPart `xml:"Part"`
}

type plexPart struct {
	File string `xml:"file,attr"`
}

// firstFile returns the `file` attribute of the first descendant that has
// one, walking Video -> Media -> Part as well as a directly-set File
// attribute (spec §6: "the file attribute of any descendant of a Video").
func (n plexNode) firstFile() (string, bool) {
	if n.File != "" {
		return n.File, true
	}
	for _, media := range n.Media {
		for _, part := range media.Part {
			if part.File != "" {
				return part.File, true
			}
		}
	}
	return "", false
}

func (idx *Index) fetchXML(metadataKey string, children bool) (*mediaContainer, error) {
	suffix := ""
	if children {
		suffix = "/children"
	}
	url := fmt.Sprintf("http://%s:32400%s%s?X-Plex-Token=%s", idx.host, metadataKey, suffix, idx.token)

	resp, err := idx.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch plex metadata: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read plex response: %w", err)
	}

	var mc mediaContainer
	if err := xml.Unmarshal(body, &mc); err != nil {
		return nil, fmt.Errorf("parse plex xml: %w", err)
	}
	return &mc, nil
}

// ResolveFilename fetches the metadata-key XML for event and persists
// PlexFilename{metadata_key -> filename} from the first descendant `file`
// attribute found (spec §4.5, §8 scenario 5). A no-op if event has no
// metadata key or a PlexFilename row already exists for it.
func (idx *Index) ResolveFilename(event *models.PlexEvent) error {
	if event.MetadataKey == nil {
		return nil
	}
	var exists bool
	err := idx.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM plex_filenames WHERE metadata_key = $1)`, *event.MetadataKey).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	mc, err := idx.fetchXML(*event.MetadataKey, false)
	if err != nil {
		return err
	}

	for _, n := range mc.Video {
		if f, ok := n.firstFile(); ok {
			_, err := idx.db.Exec(
				`INSERT INTO plex_filenames (metadata_key, filename) VALUES ($1, $2)
				 ON CONFLICT (metadata_key) DO UPDATE SET filename = EXCLUDED.filename`,
				*event.MetadataKey, f,
			)
			return err
		}
	}
	return fmt.Errorf("no file attribute found for %s", *event.MetadataKey)
}

// WalkMetadataTree fetches metadataKey's XML, persists a PlexMetadata row,
// and for directories recursively fetches {key}/children and persists each
// child's metadata and filename (spec §4.5). Depth-bounded to the Plex
// tree's documented 3 levels (show -> season -> episode) to satisfy §9's
// "never traverse by recursion without a depth bound".
func (idx *Index) WalkMetadataTree(metadataKey string) error {
	return idx.walk(metadataKey, 0, 3)
}

func (idx *Index) walk(metadataKey string, depth, maxDepth int) error {
	if depth >= maxDepth {
		return nil
	}

	mc, err := idx.fetchXML(metadataKey, false)
	if err != nil {
		return err
	}

	if err := idx.persistNodes(mc.Video, models.PlexObjectVideo); err != nil {
		return err
	}
	if err := idx.persistNodes(mc.Track, models.PlexObjectTrack); err != nil {
		return err
	}
	if err := idx.persistNodes(mc.Directory, models.PlexObjectDirectory); err != nil {
		return err
	}

	for _, dir := range mc.Directory {
		children, err := idx.fetchXML(dir.Key+"/children", false)
		if err != nil {
			return err
		}
		if err := idx.persistNodes(children.Video, models.PlexObjectVideo); err != nil {
			return err
		}
		if err := idx.persistNodes(children.Track, models.PlexObjectTrack); err != nil {
			return err
		}
		if err := idx.persistNodes(children.Directory, models.PlexObjectDirectory); err != nil {
			return err
		}
		for _, grandchild := range children.Directory {
			if err := idx.walk(grandchild.Key, depth+2, maxDepth); err != nil {
				return err
			}
		}
		for _, childVideo := range children.Video {
			if f, ok := childVideo.firstFile(); ok {
				if _, err := idx.db.Exec(
					`INSERT INTO plex_filenames (metadata_key, filename) VALUES ($1, $2)
					 ON CONFLICT (metadata_key) DO UPDATE SET filename = EXCLUDED.filename`,
					childVideo.Key, f,
				); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (idx *Index) persistNodes(nodes []plexNode, objType models.PlexObjectType) error {
	for _, n := range nodes {
		var parentKey, grandparentKey *string
		if n.ParentKey != "" {
			parentKey = &n.ParentKey
		}
		if n.GrandparentKey != "" {
			grandparentKey = &n.GrandparentKey
		}
		_, err := idx.db.Exec(`
			INSERT INTO plex_metadata (metadata_key, object_type, title, parent_key, grandparent_key)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (metadata_key) DO UPDATE SET
				object_type = EXCLUDED.object_type, title = EXCLUDED.title,
				parent_key = EXCLUDED.parent_key, grandparent_key = EXCLUDED.grandparent_key
		`, n.Key, objType, n.Title, parentKey, grandparentKey)
		if err != nil {
			return err
		}
	}
	return nil
}

// BackfillShowTokens runs the three-pass show-token back-fill to a
// fixpoint (spec §4.5): direct filename link, directory-from-child, and
// grandparent-from-grandchild. Returns the total number of rows updated
// across every pass and iteration.
func (idx *Index) BackfillShowTokens() (int64, error) {
	var total int64
	for {
		n, err := idx.backfillOnePass()
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			return total, nil
		}
	}
}

func (idx *Index) backfillOnePass() (int64, error) {
	var total int64

	res, err := idx.db.Exec(`
		UPDATE plex_metadata pm
		SET show = c.show
		FROM plex_filenames pf
		JOIN collection_entries c ON pf.collection_id = c.id
		WHERE pm.show IS NULL AND pm.metadata_key = pf.metadata_key
	`)
	if err != nil {
		return total, fmt.Errorf("pass 1: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = idx.db.Exec(`
		UPDATE plex_metadata parent
		SET show = child.show
		FROM plex_metadata child
		WHERE parent.show IS NULL AND parent.object_type = 'directory'
		  AND child.parent_key = parent.metadata_key AND child.show IS NOT NULL
	`)
	if err != nil {
		return total, fmt.Errorf("pass 2: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	res, err = idx.db.Exec(`
		UPDATE plex_metadata grandparent
		SET show = grandchild.show
		FROM plex_metadata grandchild
		WHERE grandparent.show IS NULL
		  AND grandchild.grandparent_key = grandparent.metadata_key AND grandchild.show IS NOT NULL
	`)
	if err != nil {
		return total, fmt.Errorf("pass 3: %w", err)
	}
	n, _ = res.RowsAffected()
	total += n

	return total, nil
}

// SweepBrokenLinks clears collection_id on every PlexFilename whose target
// no longer exists in CollectionEntry (spec §3, §4.5 invariant).
func (idx *Index) SweepBrokenLinks() (int64, error) {
	res, err := idx.db.Exec(`
		UPDATE plex_filenames
		SET collection_id = NULL
		WHERE collection_id IS NOT NULL
		  AND collection_id NOT IN (SELECT id FROM collection_entries)
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Repair tries to match every null-collection_id PlexFilename by rewriting
// its reported path through the mapper (default /shares/ -> /media/) into
// CollectionEntry.path (spec §4.5).
func (idx *Index) Repair() (int64, error) {
	rows, err := idx.db.Query(`SELECT metadata_key, filename FROM plex_filenames WHERE collection_id IS NULL`)
	if err != nil {
		return 0, err
	}
	type candidate struct {
		metadataKey string
		filename    string
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.metadataKey, &c.filename); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var repaired int64
	for _, c := range candidates {
		mapped := idx.mapper.Apply(c.filename)
		var collectionID uuid.UUID
		err := idx.db.QueryRow(`SELECT id FROM collection_entries WHERE path = $1`, mapped).Scan(&collectionID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return repaired, err
		}
		if _, err := idx.db.Exec(`UPDATE plex_filenames SET collection_id = $1 WHERE metadata_key = $2`, collectionID, c.metadataKey); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}
