// Package ingest implements the CAR upload pipeline of spec.md §4.F: a
// token-gated /ingest/init → /ingest/car handoff in front of a FIFO
// background worker that hands spooled files to CAS-daemon's dag/import.
package ingest

import (
	"context"
	"io"
	"os"

	"github.com/rawblock/lumen-gateway/internal/apierr"
	"github.com/rawblock/lumen-gateway/internal/planvalidator"
)

// InitResult is what /ingest/init returns to the caller.
type InitResult struct {
	Token     string
	PlanID    string
	ExpiresIn int // seconds, spec.md §3's 10-minute token TTL expressed to callers
}

// CarResult is what /ingest/car returns immediately, spec.md §4.F: "response
// returns 200 immediately... {ok:true, roots: [], meta:{jobId, wallet,
// planId, uploadedBytes}}" — roots are always empty at this point since
// ingestion is asynchronous.
type CarResult struct {
	JobID         string
	Wallet        string
	PlanID        string
	UploadedBytes int64
}

// Pipeline ties the plan validator, token registry and background queue
// together behind the two HTTP-facing entry points.
type Pipeline struct {
	validator *planvalidator.Validator
	tokens    *TokenRegistry
	queue     *Queue
	spoolDir  string
	maxBytes  int64
}

func NewPipeline(validator *planvalidator.Validator, queue *Queue, spoolDir string, maxBytes int64) *Pipeline {
	return &Pipeline{
		validator: validator,
		tokens:    NewTokenRegistry(),
		queue:     queue,
		spoolDir:  spoolDir,
		maxBytes:  maxBytes,
	}
}

// Init validates the wallet's plan, then mints a single-use upload token
// scoped to an optional estimated size and display name (spec.md §4.F
// step 1).
func (p *Pipeline) Init(ctx context.Context, wallet string, estBytes int64, displayName string) (*InitResult, error) {
	plan, err := p.validator.EnsureWalletPlanOk(ctx, wallet)
	if err != nil {
		return nil, err
	}

	token, err := p.tokens.Issue(wallet, plan.PlanID, estBytes, displayName)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not issue upload token", err)
	}

	return &InitResult{Token: token, PlanID: plan.PlanID, ExpiresIn: int(tokenTTL.Seconds())}, nil
}

// HandleCar consumes token atomically, re-validates the plan is still good,
// spools the CAR body to disk under the size cap, and enqueues the
// background import job. It never blocks on dag/import (spec.md §4.F step
// 2: "the daemon call happens off the request path").
func (p *Pipeline) HandleCar(ctx context.Context, token string, body io.Reader) (*CarResult, error) {
	claim, ok := p.tokens.ConsumeAtomic(token)
	if !ok {
		return nil, apierr.New(apierr.UploadTokenInvalid, "upload token unknown or expired")
	}

	if _, err := p.validator.EnsureWalletPlanOk(ctx, claim.Wallet); err != nil {
		return nil, err
	}

	spooled, err := spoolCAR(body, p.spoolDir, p.maxBytes)
	if err != nil {
		return nil, apierr.Wrap(apierr.InternalError, "could not spool upload", err)
	}
	if spooled.exceeded {
		return nil, apierr.New(apierr.CarTooLarge, "upload exceeds the configured size cap").
			WithExtra(map[string]any{"max_bytes": p.maxBytes})
	}

	job := Job{
		TmpPath:       spooled.path,
		Wallet:        claim.Wallet,
		PlanID:        claim.PlanID,
		DisplayName:   claim.DisplayName,
		UploadedBytes: spooled.bytes,
	}
	jobID := p.queue.Enqueue(job)

	return &CarResult{
		JobID:         jobID,
		Wallet:        claim.Wallet,
		PlanID:        claim.PlanID,
		UploadedBytes: spooled.bytes,
	}, nil
}

// Ready reports whether the spool directory is writable, backing
// /ingest/ready.
func (p *Pipeline) Ready() bool {
	f, err := os.CreateTemp(p.spoolDir, "ready-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}

func (p *Pipeline) Stats() *Stats { return p.queue.Stats() }

// TokensExpired reports upload tokens purged unconsumed by the sweep loop,
// surfaced as a prometheus gauge (SPEC_FULL.md supplemented feature 4).
func (p *Pipeline) TokensExpired() uint64 { return p.tokens.Expired() }
