// Package metrics records checkout outcomes and HTTP traffic, to Prometheus
// when serving over HTTP and to CloudWatch when running in Lambda.
package metrics

import (
	"context"
	"time"
)

// Checkout outcomes.
const (
	OutcomeCreated  = "created"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Recorder receives business metrics. Implementations never fail the caller.
type Recorder interface {
	Checkout(ctx context.Context, outcome string, elapsed time.Duration)
	Retry(ctx context.Context, op string)
}

// Nop drops everything.
type Nop struct{}

func (Nop) Checkout(context.Context, string, time.Duration) {}
func (Nop) Retry(context.Context, string) {}
