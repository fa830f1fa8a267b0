package digest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"star-notifier/internal/domain"
)

// MaxDeliveryAttempts bounds how often a failing job is redelivered.
const MaxDeliveryAttempts = 5

// Worker consumes digest jobs from a queue.
type Worker struct {
	queue    domain.DigestQueue
	statuses domain.DigestJobStatus
	runner   domain.DigestRunner
	log      zerolog.Logger
	backoff  time.Duration
}

// NewWorker creates a queue consumer.
func NewWorker(queue domain.DigestQueue, statuses domain.DigestJobStatus, runner domain.DigestRunner, logger zerolog.Logger) *Worker {
	return &Worker{queue: queue, statuses: statuses, runner: runner, log: logger, backoff: time.Second}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("digest-worker: unable to read queue")
			w.sleep(ctx)
			continue
		}
		w.Handle(ctx, job, ack)
	}
}

// Handle processes a single delivery and acknowledges it.
func (w *Worker) Handle(ctx context.Context, job domain.DigestJob, ack domain.DigestAckFunc) {
	jobLog := w.log.With().
		Str("job_id", job.ID).
		Str("week", job.Week).
		Str("cause", string(job.Cause)).
		Logger()

	if job.ID == "" {
		jobLog.Error().Msg("digest-worker: job without id, acknowledging and skipping")
		w.ack(jobLog, ack, true)
		return
	}

	delivered, attempt, err := w.statuses.Begin(ctx, job.ID)
	if err != nil {
		jobLog.Error().Err(err).Msg("digest-worker: unable to register job")
		w.ack(jobLog, ack, false)
		w.sleep(ctx)
		return
	}
	jobLog = jobLog.With().Int("attempt", attempt).Logger()

	if delivered {
		jobLog.Info().Msg("digest-worker: job already delivered, acknowledging")
		w.ack(jobLog, ack, true)
		return
	}

	if err := w.runner.RunWeeklyDigest(ctx, job); err != nil {
		if attempt < MaxDeliveryAttempts {
			jobLog.Warn().Err(err).Msg("digest-worker: job failed, will retry")
			w.ack(jobLog, ack, false)
			return
		}
		jobLog.Error().Err(err).Msg("digest-worker: attempts exhausted, dropping job")
	}

	if err := w.statuses.MarkDelivered(ctx, job.ID); err != nil {
		jobLog.Error().Err(err).Msg("digest-worker: unable to mark job delivered")
		w.ack(jobLog, ack, false)
		w.sleep(ctx)
		return
	}
	w.ack(jobLog, ack, true)
}

func (w *Worker) ack(log zerolog.Logger, ack domain.DigestAckFunc, success bool) {
	if err := ack(success); err != nil {
		log.Error().Err(err).Bool("success", success).Msg("digest-worker: unable to acknowledge job")
	}
}

func (w *Worker) sleep(ctx context.Context) {
	if w.backoff <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(w.backoff):
	}
}
