// Package hitl wraps adapter invocations with optional human-review
// checkpoints. The Coordinator is transport-agnostic: it depends only on
// the Transport interface, never on a specific reviewer UI or signal
// mechanism, so the core can ship without assuming a Temporal-style signal
// channel is available.
package hitl

import (
	"context"
	"fmt"
	"time"

	"goa.design/taskorchestrator/orcerrors"
	"goa.design/taskorchestrator/telemetry"
)

// Checkpoint names the review point a Coordinator call wraps.
type Checkpoint string

const (
	CheckpointAfterPlanGeneration Checkpoint = "after_plan_generation"
	CheckpointAfterModifiedPlan  Checkpoint = "after_modified_plan"
	CheckpointAfterAtomizer      Checkpoint = "after_atomizer"
	CheckpointBeforeExecute      Checkpoint = "before_execute"
)

// Verdict is a reviewer's decision at a checkpoint.
type Verdict string

const (
	VerdictApprove            Verdict = "approve"
	VerdictRequestModification Verdict = "request_modification"
	VerdictAbort              Verdict = "abort"
)

// Review is the request sent to a reviewer at a live checkpoint.
type Review struct {
	CheckpointName Checkpoint
	ContextMessage string
	DataForReview  any
	NodeID         string
	Attempt        int
}

// Response is the reviewer's reply to a Review.
type Response struct {
	Verdict              Verdict
	ModificationInstructions string
	Reason               string
}

// Transport delivers a Review to a reviewer and returns their Response. A
// nil Transport (or one with no reviewer attached) is handled by
// Coordinator itself per the auto-approve/timeout contract; Transport
// implementations need only implement the actual request/response
// mechanics.
type Transport interface {
	Request(ctx context.Context, review Review) (Response, error)
}

// Config selects which checkpoints are live and how long to wait for a
// reviewer before auto-approving.
type Config struct {
	Enabled        map[Checkpoint]bool
	RootPlanOnly   bool
	ReviewTimeout  time.Duration
	AutoApproveOnTimeout bool
}

// DefaultConfig returns a Config with every checkpoint disabled — the
// all-auto-approve default a deployment with no reviewer transport gets
// for free.
func DefaultConfig() Config {
	return Config{
		Enabled:              make(map[Checkpoint]bool),
		ReviewTimeout:        30 * time.Second,
		AutoApproveOnTimeout: true,
	}
}

// Coordinator applies checkpoint policy around a single logical stage.
// Callers loop: call Review, act on the verdict (continue and re-run with
// instructions on request_modification, or abort), and stop on approve.
type Coordinator struct {
	cfg       Config
	transport Transport
	log       telemetry.Logger
}

// New constructs a Coordinator. A nil transport means every live
// checkpoint resolves by the timeout/auto-approve policy alone.
func New(cfg Config, transport Transport, log telemetry.Logger) *Coordinator {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	return &Coordinator{cfg: cfg, transport: transport, log: log}
}

// IsLive reports whether checkpoint cp applies to a node at the given
// layer (root_plan_only restricts checkpoints to layer 0).
func (c *Coordinator) IsLive(cp Checkpoint, layer int) bool {
	if !c.cfg.Enabled[cp] {
		return false
	}
	if c.cfg.RootPlanOnly && layer != 0 {
		return false
	}
	return true
}

// Review runs one checkpoint. If the checkpoint is not live, it
// auto-approves immediately. Otherwise it sends the Review through the
// Transport, bounded by cfg.ReviewTimeout, and either returns the
// reviewer's Response or synthesizes one per the timeout policy.
func (c *Coordinator) Review(ctx context.Context, cp Checkpoint, layer int, review Review) (Response, error) {
	if !c.IsLive(cp, layer) {
		return Response{Verdict: VerdictApprove}, nil
	}
	if c.transport == nil {
		c.log.Info(ctx, "hitl checkpoint auto-approved, no transport configured",
			"checkpoint", string(cp), "node_id", review.NodeID)
		return Response{Verdict: VerdictApprove}, nil
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if c.cfg.ReviewTimeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, c.cfg.ReviewTimeout)
		defer cancel()
	}

	resp, err := c.transport.Request(reqCtx, review)
	if err == nil {
		return resp, nil
	}
	if reqCtx.Err() == context.DeadlineExceeded {
		if c.cfg.AutoApproveOnTimeout {
			c.log.Warn(ctx, "hitl checkpoint timed out, auto-approving",
				"checkpoint", string(cp), "node_id", review.NodeID)
			return Response{Verdict: VerdictApprove}, nil
		}
		return Response{}, &orcerrors.HITLTimeout{TaskID: review.NodeID, CheckpointName: string(cp)}
	}
	return Response{}, fmt.Errorf("hitl transport request failed: %w", err)
}

// AbortError builds the typed error a caller returns when a reviewer
// aborts at a checkpoint.
func AbortError(nodeID string, cp Checkpoint, reason string) error {
	return &orcerrors.HITLAborted{TaskID: nodeID, CheckpointName: string(cp), Reason: reason}
}
