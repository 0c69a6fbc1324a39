package ingest

import (
	"context"
	"log"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/lumen-gateway/internal/casdaemon"
	"github.com/rawblock/lumen-gateway/internal/walletstore"
)

const (
	minDelay = 100 * time.Millisecond
	maxDelay = 5000 * time.Millisecond
)

// Job carries everything the background worker needs for one upload,
// spec.md §4.F's "{tmp path, wallet, planId, displayName?, uploadedBytes,
// content-type}".
type Job struct {
	JobID         string
	TmpPath       string
	Wallet        string
	PlanID        string
	DisplayName   string
	UploadedBytes int64
	ContentType   string
}

// Notifier fires best-effort webhook events; failures are logged, never
// propagated (spec.md §7 "best-effort secondary writes... are logged but
// never failed up").
type Notifier interface {
	Fire(event string, payload map[string]any)
}

// Stats is the in-memory recordIngest() counter set, grounded on
// internal/scanner/block_scanner.go's atomic progress counters.
type Stats struct {
	jobsProcessed atomic.Int64
	bytesIngested atomic.Int64
	rootsRecorded atomic.Int64
}

func (s *Stats) record(uploadedBytes int64, roots int) {
	s.jobsProcessed.Add(1)
	s.bytesIngested.Add(uploadedBytes)
	s.rootsRecorded.Add(int64(roots))
}

// Snapshot reads the current counters.
func (s *Stats) Snapshot() (jobs, bytesTotal, roots int64) {
	return s.jobsProcessed.Load(), s.bytesIngested.Load(), s.rootsRecorded.Load()
}

// Queue is the single-worker FIFO ingest pipeline (spec.md §4.F, §5
// "ingest queue is a FIFO with a single worker").
type Queue struct {
	jobs     chan Job
	cas      *casdaemon.Client
	store    *walletstore.Store
	notifier Notifier
	stats    Stats
}

func NewQueue(cas *casdaemon.Client, store *walletstore.Store, notifier Notifier) *Queue {
	q := &Queue{jobs: make(chan Job, 256), cas: cas, store: store, notifier: notifier}
	go q.run()
	return q
}

// Enqueue synthesizes a job id and queues the job; returns immediately per
// spec.md §4.F "response returns 200 immediately".
func (q *Queue) Enqueue(j Job) string {
	j.JobID = uuid.NewString()
	q.jobs <- j
	return j.JobID
}

func (q *Queue) Stats() *Stats { return &q.stats }

func (q *Queue) run() {
	for job := range q.jobs {
		q.process(job)
	}
}

// process implements the per-job state machine of spec.md §4.F: randomized
// delay, multipart dag/import, root extraction, wallet_roots update,
// display-name set, webhook, guaranteed spool cleanup.
func (q *Queue) process(job Job) {
	defer os.Remove(job.TmpPath)

	delay := minDelay + time.Duration(rand.Int63n(int64(maxDelay-minDelay)))
	time.Sleep(delay)

	f, err := os.Open(job.TmpPath)
	if err != nil {
		log.Printf("ingest job %s: reopen spool: %v", job.JobID, err)
		return
	}
	defer f.Close()

	ctx := context.Background()
	out := q.cas.DagImport(ctx, job.JobID+".car", f)
	if !out.OK {
		log.Printf("ingest job %s: dag/import failed: %s %s", job.JobID, out.Kind, out.Details)
		return
	}

	roots := dedupRoots(out.Body)
	if len(roots) == 0 {
		log.Printf("ingest job %s: dag/import returned no roots", job.JobID)
		return
	}

	q.stats.record(job.UploadedBytes, len(roots))

	nowMs := time.Now().UnixMilli()
	if err := q.store.AddOrUpdateWalletRoots(ctx, job.Wallet, roots, job.UploadedBytes, nowMs); err != nil {
		log.Printf("ingest job %s: addOrUpdateWalletRoots: %v", job.JobID, err)
	}
	if job.DisplayName != "" {
		for _, root := range roots {
			if err := q.store.SetDisplayName(ctx, job.Wallet, root, job.DisplayName, nowMs); err != nil {
				log.Printf("ingest job %s: setDisplayName(%s): %v", job.JobID, root, err)
			}
		}
	}

	if q.notifier != nil {
		q.notifier.Fire("ingest", map[string]any{
			"wallet":        job.Wallet,
			"planId":        job.PlanID,
			"uploadedBytes": job.UploadedBytes,
			"roots":         roots,
		})
	}
}

func dedupRoots(roots []casdaemon.ImportRoot) []string {
	seen := make(map[string]struct{}, len(roots))
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if r.Root == "" {
			continue
		}
		if _, ok := seen[r.Root]; ok {
			continue
		}
		seen[r.Root] = struct{}{}
		out = append(out, r.Root)
	}
	return out
}
