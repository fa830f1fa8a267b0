package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
)

// lockTTL outlives one weekly period so a slow instance cannot fire the same week twice.
const lockTTL = 8 * 24 * time.Hour

// Trigger fires the weekly digest.
type Trigger struct {
	schedule Schedule
	lock     domain.Cache
	queue    domain.DigestQueue
	runner   domain.DigestRunner
	log      zerolog.Logger
	now      func() time.Time
}

// NewTrigger creates a trigger. A nil queue runs jobs in process with runner.
func NewTrigger(schedule Schedule, lock domain.Cache, queue domain.DigestQueue, runner domain.DigestRunner, logger zerolog.Logger) *Trigger {
	return &Trigger{
		schedule: schedule,
		lock:     lock,
		queue:    queue,
		runner:   runner,
		log:      logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is done, firing at every scheduled instant.
func (t *Trigger) Run(ctx context.Context) error {
	for {
		next := t.schedule.Next(t.now())
		t.log.Info().Time("next", next).Str("schedule", t.schedule.String()).Msg("digest: next run scheduled")
		timer := time.NewTimer(next.Sub(t.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if _, _, err := t.Fire(ctx, next, domain.DigestCauseScheduled); err != nil {
			t.log.Error().Err(err).Msg("digest: weekly run failed")
		}
	}
}

// Fire builds the job for the week containing at and hands it to the queue or
// the runner. Scheduled jobs fire once per week across instances; fired is
// false when another firing already claimed the week.
func (t *Trigger) Fire(ctx context.Context, at time.Time, cause domain.DigestJobCause) (job domain.DigestJob, fired bool, err error) {
	job = domain.DigestJob{
		ID:          uuid.NewString(),
		Week:        WeekKey(at.In(t.schedule.location())),
		RequestedAt: t.now().UTC(),
		Cause:       cause,
	}
	dispatch := func() error {
		fired = true
		return t.dispatch(ctx, job)
	}
	if cause != domain.DigestCauseScheduled || t.lock == nil {
		err = dispatch()
	} else {
		err = t.lock.Once(ctx, "digest:week:"+job.Week, lockTTL, dispatch)
	}
	if err != nil {
		return job, fired, fmt.Errorf("digest %s: %w", job.Week, err)
	}
	if !fired {
		t.log.Info().Str("week", job.Week).Msg("digest: week already handled elsewhere")
	}
	return job, fired, nil
}

func (t *Trigger) dispatch(ctx context.Context, job domain.DigestJob) error {
	log := t.log.With().Str("job", job.ID).Str("week", job.Week).Str("cause", string(job.Cause)).Logger()
	if t.queue != nil {
		if err := t.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue: %w", err)
		}
		log.Info().Msg("digest: job enqueued")
		return nil
	}
	if t.runner == nil {
		return errors.New("no digest runner configured")
	}
	log.Info().Msg("digest: running in process")
	return t.runner.RunWeeklyDigest(ctx, job)
}
