package imagegen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"tryon/internal/domain"
	"tryon/internal/infra"
	"tryon/internal/metrics"
	"tryon/internal/providers/fashn"
)

const (
	defaultPollInterval     = time.Second
	defaultTransientBackoff = 3 * time.Second
	defaultMaxBackoff       = 15 * time.Second
	defaultTimeout          = 120 * time.Second

	MaxSamples = 4
)

// Provider is the transport surface the engine drives.
type Provider interface {
	Submit(ctx context.Context, in fashn.RunInputs) (string, error)
	Status(ctx context.Context, id string) (*fashn.StatusResponse, error)
}

// Options configures polling policy. Zero values fall back to defaults.
type Options struct {
	PollInterval time.Duration
	// TransientBackoff is the first delay after a transient poll failure; it
	// doubles on each consecutive failure up to MaxBackoff.
	TransientBackoff time.Duration
	MaxBackoff       time.Duration
	Timeout          time.Duration
	Logger           *infra.Logger
	Metrics          metrics.Recorder
}

// Request describes one try-on generation.
type Request struct {
	ModelImage   domain.Image
	GarmentImage domain.Image
	Category     domain.Category `validate:"required,oneof=tops bottoms one-pieces"`
	Mode         domain.Mode     `validate:"required,oneof=performance balanced quality"`
	NumSamples   int             `validate:"gte=0,lte=4"`
}

// Job is the transient state of one provider run.
type Job struct {
	ID                string
	Status            string
	Phase             Phase
	Attempts          int
	TransientFailures int
	Elapsed           time.Duration
	OutputURLs        []string
}

// Engine submits a try-on run and polls it to a terminal state.
type Engine struct {
	provider         Provider
	interval         time.Duration
	transientBackoff time.Duration
	maxBackoff       time.Duration
	timeout          time.Duration
	logger           *infra.Logger
	metrics          metrics.Recorder
	validate         *validator.Validate
}

func NewEngine(provider Provider, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("imagegen: provider is required")
	}
	e := &Engine{
		provider:         provider,
		interval:         opts.PollInterval,
		transientBackoff: opts.TransientBackoff,
		maxBackoff:       opts.MaxBackoff,
		timeout:          opts.Timeout,
		logger:           opts.Logger,
		metrics:          opts.Metrics,
		validate:         validator.New(),
	}
	if e.interval <= 0 {
		e.interval = defaultPollInterval
	}
	if e.transientBackoff <= 0 {
		e.transientBackoff = defaultTransientBackoff
	}
	if e.transientBackoff <= e.interval {
		e.transientBackoff = 2 * e.interval
	}
	if e.maxBackoff < e.transientBackoff {
		e.maxBackoff = max(defaultMaxBackoff, e.transientBackoff)
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.logger == nil {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		e.logger = &l
	}
	if e.metrics == nil {
		e.metrics = metrics.Noop{}
	}
	return e, nil
}

// Timeout returns the polling ceiling.
func (e *Engine) Timeout() time.Duration {
	return e.timeout
}

// SubmitAndAwait submits exactly one run and polls it until it completes,
// fails, times out or ctx is cancelled. onStatus may be nil; it sees each
// phase change once and at most one terminal phase.
func (e *Engine) SubmitAndAwait(ctx context.Context, req Request, onStatus StatusFunc) (*Job, error) {
	if req.NumSamples == 0 {
		req.NumSamples = 1
	}
	if err := e.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	modelURI, err := EncodeDataURI(req.ModelImage)
	if err != nil {
		return nil, err
	}
	garmentURI, err := EncodeDataURI(req.GarmentImage)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &domain.GenerationError{Kind: domain.ErrCancelled, Err: err}
	}

	id, err := e.provider.Submit(ctx, fashn.RunInputs{
		ModelImage:   modelURI,
		GarmentImage: garmentURI,
		Category:     string(req.Category),
		Mode:         string(req.Mode),
		NumSamples:   req.NumSamples,
	})
	if err != nil {
		return nil, e.submitError(ctx, err)
	}
	if id == "" {
		e.metrics.RecordSubmission("protocol_error")
		return nil, &domain.GenerationError{Kind: domain.ErrProtocol, Message: "submission response carried no job id"}
	}
	e.metrics.RecordSubmission("accepted")

	job := &Job{ID: id, Status: "starting", Phase: PhaseInitializing}
	log := e.logger.With().Str("job_id", id).Logger()
	log.Info().
		Str("category", string(req.Category)).
		Str("mode", string(req.Mode)).
		Int("num_samples", req.NumSamples).
		Msg("imagegen: run submitted")

	out, err := e.await(ctx, job, &log, onStatus)
	outcome := "completed"
	if err != nil {
		outcome = outcomeOf(err)
		log.Warn().Err(err).Int("attempts", job.Attempts).Dur("elapsed", job.Elapsed).Msg("imagegen: run did not complete")
	} else {
		log.Info().Int("attempts", job.Attempts).Dur("elapsed", job.Elapsed).Int("outputs", len(out.OutputURLs)).Msg("imagegen: run completed")
	}
	e.metrics.RecordGeneration(outcome, job.Elapsed)
	return out, err
}

func (e *Engine) await(ctx context.Context, job *Job, log *zerolog.Logger, onStatus StatusFunc) (*Job, error) {
	start := time.Now()
	deadline := start.Add(e.timeout)
	emit := func(p Phase) {
		if p == job.Phase {
			return
		}
		job.Phase = p
		if onStatus != nil {
			onStatus(p)
		}
	}
	fail := func(kind error, msg string, cause error) error {
		job.Elapsed = time.Since(start)
		return &domain.GenerationError{Kind: kind, JobID: job.ID, Message: msg, Err: cause}
	}

	delay := e.interval
	var backoff time.Duration
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fail(domain.ErrTimeout, fmt.Sprintf("no terminal state after %s (last status %q)", e.timeout, job.Status), nil)
		}
		if err := sleep(ctx, min(delay, remaining)); err != nil {
			return nil, fail(domain.ErrCancelled, "", err)
		}
		if !time.Now().Before(deadline) {
			return nil, fail(domain.ErrTimeout, fmt.Sprintf("no terminal state after %s (last status %q)", e.timeout, job.Status), nil)
		}

		pollCtx, cancel := context.WithDeadline(ctx, deadline)
		st, err := e.provider.Status(pollCtx, job.ID)
		cancel()
		job.Attempts++

		if err != nil {
			if ctx.Err() != nil {
				return nil, fail(domain.ErrCancelled, "", ctx.Err())
			}
			if !time.Now().Before(deadline) {
				return nil, fail(domain.ErrTimeout, fmt.Sprintf("no terminal state after %s (last status %q)", e.timeout, job.Status), err)
			}
			wait, transient := e.retryDelay(err, backoff)
			if !transient {
				e.metrics.RecordPoll("protocol_error")
				var apiErr *fashn.APIError
				if errors.As(err, &apiErr) {
					job.Elapsed = time.Since(start)
					return nil, &domain.GenerationError{Kind: domain.ErrProtocol, JobID: job.ID, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
				}
				return nil, fail(domain.ErrProtocol, "", err)
			}
			e.metrics.RecordPoll("transient")
			job.TransientFailures++
			backoff = nextBackoff(backoff, e.transientBackoff, e.maxBackoff)
			delay = wait
			log.Debug().Err(err).Dur("retry_in", delay).Int("transient_failures", job.TransientFailures).Msg("imagegen: transient poll failure")
			continue
		}
		e.metrics.RecordPoll("ok")
		backoff = 0
		delay = e.interval
		job.Status = st.Status

		phase, known := phaseForStatus(st.Status)
		if !known {
			log.Warn().Str("status", st.Status).Msg("imagegen: unrecognized provider status, treating as processing")
		}
		switch phase {
		case PhaseCompleted:
			if len(st.Output) == 0 {
				return nil, fail(domain.ErrProtocol, "completed without output", nil)
			}
			job.Elapsed = time.Since(start)
			job.OutputURLs = append([]string(nil), st.Output...)
			emit(PhaseCompleted)
			return job, nil
		case PhaseFailed:
			emit(PhaseFailed)
			msg := st.Error
			if msg == "" {
				msg = "provider reported failure without a message"
			}
			return nil, fail(domain.ErrGenerationFailed, msg, nil)
		case PhaseCancelled:
			emit(PhaseCancelled)
			return nil, fail(domain.ErrGenerationCancelled, st.Error, nil)
		default:
			emit(phase)
		}
	}
}

// retryDelay classifies a poll error. Transient errors are 429, any 5xx and
// transport failures; the returned delay honors a longer Retry-After.
func (e *Engine) retryDelay(err error, prev time.Duration) (time.Duration, bool) {
	next := nextBackoff(prev, e.transientBackoff, e.maxBackoff)
	var apiErr *fashn.APIError
	switch {
	case errors.As(err, &apiErr):
		if !apiErr.Transient() {
			return 0, false
		}
		if apiErr.RetryAfter > next {
			next = apiErr.RetryAfter
		}
		return next, true
	case errors.Is(err, fashn.ErrMalformedResponse), errors.Is(err, fashn.ErrMissingAPIKey):
		return 0, false
	}
	return next, true
}

func (e *Engine) submitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		e.metrics.RecordSubmission("cancelled")
		return &domain.GenerationError{Kind: domain.ErrCancelled, Err: ctx.Err()}
	}
	var apiErr *fashn.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Transient() {
			e.metrics.RecordSubmission("transient")
			return &domain.GenerationError{Kind: domain.ErrTransientSubmission, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
		}
		e.metrics.RecordSubmission("rejected")
		return &domain.GenerationError{Kind: domain.ErrInvalidRequest, StatusCode: apiErr.StatusCode, Message: apiErr.Message, Err: err}
	case errors.Is(err, fashn.ErrMissingAPIKey):
		e.metrics.RecordSubmission("rejected")
		return &domain.GenerationError{Kind: domain.ErrInvalidRequest, Message: "provider credentials are not configured", Err: err}
	case errors.Is(err, fashn.ErrMalformedResponse):
		e.metrics.RecordSubmission("protocol_error")
		return &domain.GenerationError{Kind: domain.ErrProtocol, Err: err}
	}
	e.metrics.RecordSubmission("transient")
	return &domain.GenerationError{Kind: domain.ErrTransientSubmission, Err: err}
}

func nextBackoff(prev, initial, ceiling time.Duration) time.Duration {
	if prev <= 0 {
		return initial
	}
	next := prev * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrGenerationFailed):
		return "failed"
	case errors.Is(err, domain.ErrGenerationCancelled):
		return "provider_cancelled"
	case errors.Is(err, domain.ErrProtocol):
		return "protocol_error"
	}
	return "error"
}
