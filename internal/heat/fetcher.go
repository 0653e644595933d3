package heat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"heatbot/internal/caseid"
	"heatbot/internal/recorder"
	"heatbot/internal/retry"
)

// FetcherOptions configure a Fetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	Specs          []FieldSpec
	Retry          retry.Policy
	AttemptTimeout time.Duration
	// MinFields is the resolved-field threshold below which an extraction is retried.
	MinFields int
	// SyntheticFallback substitutes a disclosed placeholder when every attempt failed transiently.
	SyntheticFallback bool
	// Secrets are scrubbed from failure reasons and logs.
	Secrets  []string
	Recorder *recorder.Recorder
	Now      func() time.Time
	Logger   *zap.Logger
}

// Fetcher runs the case lookup workflow: session, search, match, open, extract.
type Fetcher struct {
	driver   Driver
	sessions *SessionManager
	specs    []FieldSpec
	policy   retry.Policy
	timeout  time.Duration
	min      int
	fallback bool
	secrets  []string
	recorder *recorder.Recorder
	now      func() time.Time
	logger   *zap.Logger
}

func NewFetcher(driver Driver, sessions *SessionManager, opts FetcherOptions) *Fetcher {
	if len(opts.Specs) == 0 {
		opts.Specs = DefaultFieldSpecs()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = 60 * time.Second
	}
	if opts.MinFields < 0 {
		opts.MinFields = 0
	}
	if opts.MinFields > len(Fields) {
		opts.MinFields = len(Fields)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Fetcher{
		driver:   driver,
		sessions: sessions,
		specs:    opts.Specs,
		policy:   opts.Retry,
		timeout:  opts.AttemptTimeout,
		min:      opts.MinFields,
		fallback: opts.SyntheticFallback,
		secrets:  opts.Secrets,
		recorder: opts.Recorder,
		now:      opts.Now,
		logger:   opts.Logger,
	}
}

// Specs returns the field specs the fetcher extracts with.
func (f *Fetcher) Specs() []FieldSpec { return f.specs }

// FetchCase looks up id and always returns an Outcome; errors never escape.
func (f *Fetcher) FetchCase(ctx context.Context, id caseid.ID) (out Outcome) {
	requestID := uuid.NewString()
	started := time.Now()
	logger := f.logger.With(zap.String("case", id.String()), zap.String("request", requestID))

	ctx, span := tracer.Start(ctx, "FetchCase")
	span.SetAttributes(attribute.String("case", id.String()), attribute.String("driver", f.driver.Name()))
	defer span.End()

	trace, err := f.recorder.Start(requestID)
	if err != nil {
		logger.Warn("could not open request trace", zap.Error(err))
	}
	defer trace.Close()
	trace.Log("request", map[string]string{"case": id.String(), "driver": f.driver.Name()})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("fetch panicked", zap.Any("panic", r))
			out = Failed(id, Failure{Category: CategoryUnknown, Reason: "internal error", Attempts: out.Attempts})
		}
		trace.Log("outcome", outcomeSummary(out))
		recordOutcome(ctx, out, time.Since(started))
	}()

	if id.IsZero() {
		return Failed(id, Failure{Category: CategoryUnknown, Reason: "empty case identifier"})
	}

	policy := f.policy
	policy.Retryable = retryable
	policy.OnRetry = func(err error, attempt int, wait time.Duration) {
		logger.Warn("attempt failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.String("error", f.scrub(err.Error())))
	}

	var rec *Record
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		begin := f.now()
		r, err := f.attempt(ctx, id, attempt)
		entry := map[string]interface{}{"attempt": attempt, "elapsed_ms": f.now().Sub(begin).Milliseconds()}
		if err != nil {
			entry["error"] = f.scrub(err.Error())
			trace.Log("attempt_failed", entry)
			if errors.Is(err, ErrAuthentication) {
				f.sessions.Invalidate()
			}
			return err
		}
		entry["resolved"] = r.Resolved()
		trace.Log("attempt_ok", entry)
		rec = r
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	if err == nil {
		logger.Info("case fetched", zap.Int("attempts", attempts), zap.Int("resolved", rec.Resolved()))
		return Success(rec, attempts)
	}

	category := Categorize(err)
	reason := f.scrub(err.Error())
	span.RecordError(errors.New(reason))
	span.SetStatus(codes.Error, string(category))
	logger.Warn("case fetch failed",
		zap.String("category", string(category)), zap.Int("attempts", attempts), zap.String("reason", reason))

	if f.fallback && (category == CategoryTimeout || category == CategoryUnknown) {
		logger.Warn("serving synthetic placeholder record")
		return Success(SyntheticRecord(id, f.now()), attempts)
	}
	return Failed(id, Failure{Category: category, Reason: reason, Attempts: attempts})
}

func (f *Fetcher) attempt(ctx context.Context, id caseid.ID, n int) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "FetchCase:attempt")
	span.SetAttributes(attribute.Int("attempt", n))
	defer span.End()

	session, err := f.sessions.Ensure(ctx)
	if err != nil {
		return nil, f.classify(ctx, err)
	}

	att, err := f.driver.Open(ctx, session)
	if err != nil {
		return nil, f.classify(ctx, err)
	}
	defer func() {
		if cerr := att.Close(); cerr != nil {
			f.logger.Debug("closing attempt", zap.Error(cerr))
		}
	}()

	results, err := att.Search(ctx, id)
	if err != nil {
		return nil, f.classify(ctx, err)
	}
	span.AddEvent("searched")

	match, ok := MatchResult(results, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s (%d results)", ErrNotFound, id, len(results))
	}

	doc, err := att.OpenRecord(ctx, match)
	if err != nil {
		return nil, f.classify(ctx, err)
	}

	rec := NewRecord(id, f.driver.Name())
	rec.Apply(Extract(doc, f.specs))
	rec.ExtractedAt = f.now()
	if resolved := rec.Resolved(); resolved < f.min {
		return nil, fmt.Errorf("%w: %d of %d fields", ErrLowConfidence, resolved, len(Fields))
	}
	return rec, nil
}

// classify turns attempt-local deadline expiry into a transient navigation error.
func (f *Fetcher) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out: %v", ErrTransientNavigation, err)
	}
	return err
}

func (f *Fetcher) scrub(msg string) string {
	for _, s := range f.secrets {
		if s != "" {
			msg = strings.ReplaceAll(msg, s, "***")
		}
	}
	return msg
}

func outcomeSummary(o Outcome) map[string]interface{} {
	summary := map[string]interface{}{"attempts": o.Attempts, "ok": o.OK()}
	if o.Failure != nil {
		summary["category"] = o.Failure.Category
		summary["reason"] = o.Failure.Reason
	}
	if o.Record != nil {
		summary["synthetic"] = o.Record.Synthetic
		summary["resolved"] = o.Record.Resolved()
	}
	return summary
}
