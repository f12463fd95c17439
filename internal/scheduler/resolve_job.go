package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"tradinta-forging/internal/logger"
)

const (
	resolveJobName = "forging_event_resolver"
	resolveBatch   = 100
)

// Resolver finishes every due event, reading them batchSize at a time.
type Resolver interface {
	ResolveDue(ctx context.Context, batchSize int) (int, error)
}

// Lease keeps the sweep to one replica at a time.
type Lease interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
}

// ResolveJob finishes forging events whose window has closed, so events
// nobody reads still get their final discount.
type ResolveJob struct {
	Resolver Resolver
	Lease    Lease
	Interval time.Duration
	LeaseTTL time.Duration
	Log      *logger.Logger
	holder   string
}

func NewResolveJob(resolver Resolver, lease Lease, interval, leaseTTL time.Duration, log *logger.Logger) *ResolveJob {
	host, _ := os.Hostname()
	return &ResolveJob{
		Resolver: resolver,
		Lease:    lease,
		Interval: interval,
		LeaseTTL: leaseTTL,
		Log:      log,
		holder:   fmt.Sprintf("%s-%s", host, uuid.NewString()[:8]),
	}
}

func (j *ResolveJob) Name() string {
	return resolveJobName
}

func (j *ResolveJob) Schedule() gocron.JobDefinition {
	return gocron.DurationJob(j.Interval)
}

func (j *ResolveJob) Execute() {
	ctx, cancel := context.WithTimeout(context.Background(), j.LeaseTTL)
	defer cancel()
	j.Run(ctx)
}

// Run performs one sweep and reports how many events it finished.
func (j *ResolveJob) Run(ctx context.Context) int {
	if j.Lease != nil {
		ok, err := j.Lease.AcquireLease(ctx, resolveJobName, j.holder, j.LeaseTTL)
		if err != nil {
			j.Log.Error("SCHEDULER", fmt.Sprintf("Failed to acquire resolver lease: %v", err))
			return 0
		}
		if !ok {
			j.Log.Debug("SCHEDULER", "Resolver lease held by another replica, skipping")
			return 0
		}
		defer func() {
			if err := j.Lease.ReleaseLease(context.WithoutCancel(ctx), resolveJobName, j.holder); err != nil {
				j.Log.Warn("SCHEDULER", fmt.Sprintf("Failed to release resolver lease: %v", err))
			}
		}()
	}

	total, err := j.Resolver.ResolveDue(ctx, resolveBatch)
	if err != nil {
		j.Log.Error("SCHEDULER", fmt.Sprintf("Resolver sweep failed after %d events: %v", total, err))
	}
	if total > 0 {
		j.Log.Info("SCHEDULER", fmt.Sprintf("Resolved %d expired forging events", total))
	}
	return total
}
