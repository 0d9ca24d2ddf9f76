// Command moviecollection runs the core media-library lifecycle engine:
// the Collection Store, Queue Manager, IMDB Catalog, Plex Index, Trakt
// Sync, Reconciliation Pass, and Transcode Scheduler, wired together and
// driven by a filesystem watcher and a cron scheduler. Adapted from the
// teacher's cmd/cinevault/main.go wiring shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ddboline/movie-collection-go/internal/collection"
	"github.com/ddboline/movie-collection-go/internal/config"
	internaldb "github.com/ddboline/movie-collection-go/internal/db"
	"github.com/ddboline/movie-collection-go/internal/imdbcatalog"
	"github.com/ddboline/movie-collection-go/internal/metrics"
	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/plex"
	"github.com/ddboline/movie-collection-go/internal/queue"
	"github.com/ddboline/movie-collection-go/internal/reconcile"
	"github.com/ddboline/movie-collection-go/internal/scheduler"
	"github.com/ddboline/movie-collection-go/internal/tasks"
	"github.com/ddboline/movie-collection-go/internal/transcode"
	"github.com/ddboline/movie-collection-go/internal/watcher"
)

func main() {
	fmt.Println("movie-collection-go")

	cfg := config.Load()

	conn, err := internaldb.Connect(cfg.Database.URL)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer conn.Close()

	if err := internaldb.Migrate(conn, "migrations"); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	store := collection.New(conn)
	queueMgr := queue.New(conn)
	catalog := imdbcatalog.New(conn)
	plexIndex := plex.New(conn, cfg.Plex)
	transcoder := transcode.New(cfg.Paths, cfg.Transcode.HandBrakeCLIPath, nil)

	taskQueue := tasks.NewQueue(cfg.RedisAddr)

	reconcilePass := reconcile.New(
		cfg.Paths.Roots, cfg.Paths.Extensions,
		store, store, queueMgr, catalog,
		queueIndexLookup(conn),
	)

	runReconcile := func(ctx context.Context) error {
		start := time.Now()
		result, err := reconcilePass.Run(ctx)
		reg.ReconcileDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		reg.ReconcileInserted.Add(float64(result.Inserted))
		reg.ReconcileRemoved.Add(float64(result.Removed))
		log.Printf("[reconcile] inserted=%d removed=%d orphan_shows=%d errors=%d",
			result.Inserted, result.Removed, len(result.OrphanEpisode), len(result.ScanErrors))
		return nil
	}

	runPlexBackfill := func() error {
		n, err := plexIndex.BackfillShowTokens()
		if err != nil {
			return err
		}
		log.Printf("[plex] backfilled %d rows", n)
		return nil
	}

	tasks.RegisterHandlers(taskQueue, runReconcile, runPlexBackfill)

	go func() {
		if err := taskQueue.Start(context.Background()); err != nil {
			log.Printf("task queue worker error: %v", err)
		}
	}()
	defer taskQueue.Stop()

	fsWatcher, err := watcher.New(cfg.Paths.Roots, cfg.Paths.Extensions, func(path string, isCreate bool) {
		if isCreate {
			if _, err := store.Insert(path, true); err != nil {
				log.Printf("[watcher] insert error for %s: %v", path, err)
			}
			return
		}
		if err := store.Remove(path); err != nil {
			log.Printf("[watcher] remove error for %s: %v", path, err)
		}
	})
	if err != nil {
		log.Printf("filesystem watcher failed to start: %v", err)
	} else {
		fsWatcher.Start()
		defer fsWatcher.Stop()
	}

	sched := scheduler.New()
	if err := sched.AddJob("nightly-reconcile", "17 3 * * *", runReconcile); err != nil {
		log.Fatalf("schedule reconcile job: %v", err)
	}
	if err := sched.AddJob("plex-backfill", "*/15 * * * *", func(ctx context.Context) error {
		return runPlexBackfill()
	}); err != nil {
		log.Fatalf("schedule plex backfill: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	go runTranscodeQueue(transcoder, reg, cfg.Transcode.MaxConcurrent)

	select {}
}

// runTranscodeQueue polls the transcode job directory and runs up to
// maxConcurrent pending jobs at a time, the way the teacher's transcode
// worker drains its own on-disk queue rather than going through asynq
// (spec §9: a transcode in flight must survive a Redis outage).
func runTranscodeQueue(s *transcode.Scheduler, reg *metrics.Registry, maxConcurrent int) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	sem := make(chan struct{}, maxConcurrent)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		jobs, err := s.ListPending()
		if err != nil {
			log.Printf("[transcode] list pending failed: %v", err)
			continue
		}
		for _, job := range jobs {
			if err := s.Claim(job); err != nil {
				log.Printf("[transcode] claim failed for %s: %v", job.InputPath, err)
				continue
			}
			sem <- struct{}{}
			go func(job models.TranscodeJob) {
				defer func() { <-sem }()
				outcome := "ok"
				if err := s.Run(context.Background(), job); err != nil {
					log.Printf("[transcode] job %s failed: %v", job.InputPath, err)
					outcome = "error"
				}
				reg.TranscodeJobsByStat.WithLabelValues(string(job.JobType), outcome).Inc()
			}(job)
		}
	}
}

// queueIndexLookup builds the path->position snapshot the Reconciliation
// Pass needs before it can cascade a removal into the playback queue.
func queueIndexLookup(conn *sql.DB) func() (reconcile.QueueIndex, error) {
	return func() (reconcile.QueueIndex, error) {
		rows, err := conn.Query(`
			SELECT b.path, a.idx
			FROM queue_entries a
			JOIN collection_entries b ON a.collection_id = b.id
		`)
		if err != nil {
			return nil, fmt.Errorf("query queue index: %w", err)
		}
		defer rows.Close()

		index := make(reconcile.QueueIndex)
		for rows.Next() {
			var path string
			var idx int
			if err := rows.Scan(&path, &idx); err != nil {
				return nil, fmt.Errorf("scan queue index row: %w", err)
			}
			index[path] = idx
		}
		return index, rows.Err()
	}
}
