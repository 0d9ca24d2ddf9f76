// Package reconcile implements the Reconciliation Pass (spec §4.7): the
// periodic sweep that reconciles the Collection Store against what
// actually sits on disk, cascades queue removal for vanished files, and
// flags shows with on-disk episodes missing from the catalog. Grounded statement-for-
// statement on make_collection in
// movie_collection_lib/src/movie_collection.rs, using
// golang.org/x/sync/errgroup in place of the original's try_join_all and
// golang.org/x/time/rate in place of its hand-rolled RateLimiter.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ddboline/movie-collection-go/internal/config"
	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/queue"
	"github.com/ddboline/movie-collection-go/internal/scanner"
)

// CollectionStore is the subset of the Collection Store the pass depends on.
type CollectionStore interface {
	Insert(path string, checkExists bool) (*models.CollectionEntry, error)
	Remove(path string) error
	LiveMap() (map[string]*models.CollectionEntry, error)
}

// QueueManager is the subset of the Queue Manager the pass depends on.
type QueueManager interface {
	RemoveByPath(path string, resolver PathResolver) error
}

// PathResolver is satisfied by collection.Store; kept separate from
// CollectionStore so QueueManager.RemoveByPath can be called without
// widening CollectionStore's interface. It is the Queue Manager's own
// resolver type, so queue.Manager satisfies QueueManager.
type PathResolver = queue.PathResolver

// EpisodeCatalog is the subset of the IMDB Catalog the pass depends on.
type EpisodeCatalog interface {
	ListEpisodesChangedSince(since time.Time) ([]models.ImdbEpisode, error)
}

// QueueIndex maps a live collection path to its current queue position.
// A vanished path found in it is removed from the queue before it is
// soft-deleted; a vanished path not in it is soft-deleted directly.
type QueueIndex map[string]int

// Pass is the Reconciliation Pass.
type Pass struct {
	scanner    *scanner.Scanner
	store      CollectionStore
	resolver   PathResolver
	queue      QueueManager
	queueIndex func() (QueueIndex, error)
	episodes   EpisodeCatalog
}

// New builds a Pass. queueIndex supplies the path->idx lookup that decides
// which vanished entries are first removed from the queue; pass a func
// that queries queue_entries joined with collection_entries. A nil
// queueIndex means no vanished entry is removed from the queue.
func New(roots, extensions []string, store CollectionStore, resolver PathResolver, queue QueueManager, episodes EpisodeCatalog, queueIndex func() (QueueIndex, error)) *Pass {
	return &Pass{
		scanner:    scanner.New(roots, extensions),
		store:      store,
		resolver:   resolver,
		queue:      queue,
		queueIndex: queueIndex,
		episodes:   episodes,
	}
}

// Result summarizes one pass's mutations (spec §4.7, §8: "idempotent on an
// unchanged filesystem" means a second consecutive Run reports all-zero
// counters).
type Result struct {
	Inserted      int
	Removed       int
	OrphanEpisode []string
	ScanErrors    []scanner.ScanError
}

// Run executes one full reconciliation pass (spec §4.7):
//  1. scan every configured root for files matching the allowed extensions
//  2. insert every on-disk file missing from the Collection Store
//  3. cascade-remove (queue then collection) every live entry absent from disk
//  4. log, but do not mutate, every show with an on-disk episode that is
//     missing from the IMDB Catalog
func (p *Pass) Run(ctx context.Context) (Result, error) {
	scanResult := p.scanner.Scan()
	if len(scanResult.Files) == 0 {
		return Result{ScanErrors: scanResult.Errors}, nil
	}

	onDisk := make(map[string]bool, len(scanResult.Files))
	for _, f := range scanResult.Files {
		onDisk[f] = true
	}

	var result Result
	result.ScanErrors = scanResult.Errors

	live, err := p.store.LiveMap()
	if err != nil {
		return result, fmt.Errorf("live map: %w", err)
	}

	for _, f := range scanResult.Files {
		ext := strings.TrimPrefix(filepath.Ext(f), ".")
		if ext == "" {
			continue
		}
		if _, ok := live[f]; ok {
			continue
		}
		log.Printf("[reconcile] not in collection %s", f)
		if _, err := p.store.Insert(f, true); err != nil {
			return result, fmt.Errorf("insert %s: %w", f, err)
		}
		log.Printf("[reconcile] inserted into collection %s", f)
		result.Inserted++
	}

	live, err = p.store.LiveMap()
	if err != nil {
		return result, fmt.Errorf("live map: %w", err)
	}

	queueIdx := QueueIndex{}
	if p.queueIndex != nil {
		queueIdx, err = p.queueIndex()
		if err != nil {
			return result, fmt.Errorf("queue index: %w", err)
		}
	}

	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 10)

	group, gctx := errgroup.WithContext(ctx)
	removedCh := make(chan string, len(live))
	for path := range live {
		if onDisk[path] {
			continue
		}
		path := path
		group.Go(func() error {
			if idx, inQueue := queueIdx[path]; inQueue {
				log.Printf("[reconcile] in queue but not disk %s %d", path, idx)
				if err := p.queue.RemoveByPath(path, p.resolver); err != nil {
					return fmt.Errorf("remove from queue %s: %w", path, err)
				}
			} else {
				log.Printf("[reconcile] not on disk %s", path)
			}

			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if err := p.store.Remove(path); err != nil {
				return fmt.Errorf("remove from collection %s: %w", path, err)
			}
			removedCh <- path
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return result, err
	}
	close(removedCh)
	for range removedCh {
		result.Removed++
	}

	// All cataloged (show, season, episode) triples, used as the
	// membership set episode tuples parsed off disk are checked against
	// (spec §4.7 step 5). ListEpisodesChangedSince(zero time) returns
	// every row since last_modified is always >= the zero time.
	cataloged, err := p.episodes.ListEpisodesChangedSince(time.Time{})
	if err != nil {
		return result, fmt.Errorf("list episodes: %w", err)
	}
	episodesSet := make(map[string]bool, len(cataloged))
	for _, ep := range cataloged {
		episodesSet[fmt.Sprintf("%s|%d|%d", ep.Show, ep.Season, ep.Episode)] = true
	}

	seen := make(map[string]bool)
	for _, e := range scanResult.Episodes {
		if e.Season < 0 || e.Episode < 0 {
			continue
		}
		key := fmt.Sprintf("%s|%d|%d", e.Show, e.Season, e.Episode)
		if !episodesSet[key] && !seen[e.Show] {
			seen[e.Show] = true
			result.OrphanEpisode = append(result.OrphanEpisode, e.Show)
			log.Printf("[reconcile] show has episode not in db %s", e.Show)
		}
	}

	return result, nil
}
