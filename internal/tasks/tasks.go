// Package tasks is the general background-task queue. RegisterHandlers
// wires handlers for Reconciliation Pass runs and Plex show-token
// backfills only; the scan, show-id backfill and Trakt-sync task types
// are named here but have no handler. Explicitly NOT used
// for transcode jobs, which the Transcode Scheduler runs through its own
// filesystem-directory queue so an in-progress encode survives a Redis
// outage (spec §9; see internal/transcode). Adapted directly from the
// teacher's internal/jobs/queue.go, including its EnqueueUnique
// dedup-against-stale-task pattern.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/hibiken/asynq"
)

// Task type names dispatched through the queue.
const (
	TaskScanLibrary    = "scan:library"
	TaskReconcile      = "reconcile:pass"
	TaskBackfillShowID = "backfill:show_id"
	TaskTraktSync      = "trakt:sync"
	TaskPlexBackfill   = "plex:backfill"
)

// Queue wraps an asynq client/server/inspector triple.
type Queue struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	inspector *asynq.Inspector
}

// NewQueue builds a Queue against redisAddr.
func NewQueue(redisAddr string) *Queue {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)
	mux := asynq.NewServeMux()
	inspector := asynq.NewInspector(redisOpt)
	return &Queue{client: client, server: server, mux: mux, inspector: inspector}
}

func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// EnqueueUnique enqueues a task with a deterministic TaskID so repeated
// scheduler ticks for the same scope (e.g. "reconcile:pass:full") never pile
// up duplicate jobs. A completed/archived task lingering under the same ID
// is cleared first; a still-active one causes a silent skip.
func (q *Queue) EnqueueUnique(taskType string, payload interface{}, uniqueID string, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	opts = append(opts, asynq.TaskID(uniqueID))
	task := asynq.NewTask(taskType, data, opts...)
	info, err := q.client.Enqueue(task)
	if err == nil {
		return info.ID, nil
	}

	if !isTaskConflict(err) {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	cleared := false
	for _, queueName := range []string{"default", "critical", "low"} {
		if delErr := q.inspector.DeleteTask(queueName, uniqueID); delErr == nil {
			log.Printf("[tasks] cleared completed/archived task %s from queue %s", uniqueID, queueName)
			cleared = true
			break
		}
	}

	if cleared {
		info, err = q.client.Enqueue(task)
		if err == nil {
			return info.ID, nil
		}
	}

	if isTaskConflict(err) {
		log.Printf("[tasks] task %s (%s) is already active, skipping", taskType, uniqueID)
		return uniqueID, nil
	}
	return "", fmt.Errorf("enqueue: %w", err)
}

// RegisterHandler wires a handler for taskType.
func (q *Queue) RegisterHandler(taskType string, handler asynq.Handler) {
	q.mux.Handle(taskType, handler)
}

// Enqueue enqueues a one-off task with no dedup.
func (q *Queue) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data, opts...)
	info, err := q.client.Enqueue(task)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return info.ID, nil
}

// Start starts the worker server in the background and returns once it is
// running; ctx is not consulted. Stop shuts the workers down.
func (q *Queue) Start(ctx context.Context) error {
	log.Println("[tasks] worker starting")
	return q.server.Start(q.mux)
}

// Stop shuts the queue down gracefully.
func (q *Queue) Stop() {
	q.server.Shutdown()
	q.client.Close()
	q.inspector.Close()
}

// ──────────────────── Payloads ────────────────────

// ScanLibraryPayload triggers a scan + Collection Store insert pass over
// one or more roots; empty Roots means "use the configured default set".
type ScanLibraryPayload struct {
	Roots []string `json:"roots,omitempty"`
}

// ReconcilePayload triggers a Reconciliation Pass, optionally scoped to a
// single path as described in spec §4.7's "move a file" flow.
type ReconcilePayload struct {
	SinglePath string `json:"single_path,omitempty"`
}

// TraktSyncPayload triggers a Trakt Sync pull for the given scope.
type TraktSyncPayload struct {
	Scope string `json:"scope"`
}

// PlexBackfillPayload triggers a Plex Index show-token backfill pass.
type PlexBackfillPayload struct{}

// ──────────────────── Handlers ────────────────────

// ReconcileHandler runs a full Reconciliation Pass.
type ReconcileHandler struct {
	run func(ctx context.Context) error
}

// NewReconcileHandler wraps a caller-supplied run closure (main wires this
// to reconcile.Pass.Run plus its own metrics/logging).
func NewReconcileHandler(run func(ctx context.Context) error) *ReconcileHandler {
	return &ReconcileHandler{run: run}
}

// ProcessTask implements asynq.Handler.
func (h *ReconcileHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return h.run(ctx)
}

// PlexBackfillHandler runs a Plex Index show-token backfill pass.
type PlexBackfillHandler struct {
	run func() error
}

// NewPlexBackfillHandler wraps a caller-supplied run closure.
func NewPlexBackfillHandler(run func() error) *PlexBackfillHandler {
	return &PlexBackfillHandler{run: run}
}

// ProcessTask implements asynq.Handler.
func (h *PlexBackfillHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	return h.run()
}

// RegisterHandlers wires the standard set of handlers onto q. Each handler
// is a thin closure adapter so this package stays free of a direct
// dependency on reconcile/plex/collection — main constructs the closures
// from the real components and passes them in.
func RegisterHandlers(q *Queue, runReconcile func(ctx context.Context) error, runPlexBackfill func() error) {
	q.RegisterHandler(TaskReconcile, NewReconcileHandler(runReconcile))
	q.RegisterHandler(TaskPlexBackfill, NewPlexBackfillHandler(runPlexBackfill))
}
