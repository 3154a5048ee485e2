package inference

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"mercator-hq/callisto/pkg/telemetry/audit"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// Pipeline runs validated prediction requests against the backend and
// reports every outcome, success or failure, to the metrics collector and
// the audit trail exactly once.
type Pipeline struct {
	backend    Backend
	validator  *Validator
	collector  *metrics.Collector
	trail      *audit.Trail
	classifier Classifier

	modelName    string
	modelVersion string

	// predictTimeout bounds one backend call; zero means no deadline.
	predictTimeout time.Duration

	logger *slog.Logger
}

// PipelineOptions configures a pipeline.
type PipelineOptions struct {
	Backend        Backend
	Validator      *Validator
	Collector      *metrics.Collector
	Trail          *audit.Trail
	Classifier     Classifier
	ModelName      string
	ModelVersion   string
	PredictTimeout time.Duration
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(opts PipelineOptions) *Pipeline {
	return &Pipeline{
		backend:        opts.Backend,
		validator:      opts.Validator,
		collector:      opts.Collector,
		trail:          opts.Trail,
		classifier:     opts.Classifier,
		modelName:      opts.ModelName,
		modelVersion:   opts.ModelVersion,
		predictTimeout: opts.PredictTimeout,
		logger:         slog.Default().With("component", "pipeline"),
	}
}

// Validator returns the pipeline's validator, for runtime limit updates.
func (p *Pipeline) Validator() *Validator { return p.validator }

// Handle runs one admitted request through validation, the backend and
// assembly. It returns either the success payload or the classified error
// record; exactly one of the two is non-nil.
//
// Auth failures never reach Handle; the gate rejects them first and the
// caller reports them through Reject.
func (p *Pipeline) Handle(ctx context.Context, rc RequestContext, instances []any) (*PredictionResponse, *ErrorRecord) {
	batch, valErr := p.validator.Validate(instances)
	if valErr != nil {
		rec := p.Reject(rc, valErr)
		return nil, &rec
	}

	if !p.backend.Loaded() {
		rec := p.Reject(rc, &NotLoadedError{})
		return nil, &rec
	}

	outcomes, err := p.predict(ctx, batch)
	if err != nil {
		rec := p.Reject(rc, err)
		return nil, &rec
	}

	elapsed := time.Since(rc.ReceivedAt)
	elapsedMs := float64(elapsed) / float64(time.Millisecond)

	p.checkProbabilities(rc.RequestID, outcomes)

	p.collector.RecordSuccess(elapsed, len(batch))
	p.trail.RecordPrediction(rc.RequestID, rc.ClientIdentity, len(batch), elapsedMs, true, "")

	return Assemble(rc.RequestID, outcomes, p.modelName, p.modelVersion, elapsedMs), nil
}

// Reject classifies a failure, counts it and audits it. Every failure path,
// including auth rejections raised before validation, funnels through here
// so each failure is counted exactly once and produces exactly one audit
// record and one error record.
func (p *Pipeline) Reject(rc RequestContext, err error) ErrorRecord {
	rec := p.classifier.Classify(err, rc.RequestID)
	elapsed := time.Since(rc.ReceivedAt)

	switch rec.Code {
	case CodeAuthentication:
		p.collector.RecordFailure(elapsed, metrics.FailureAuth)
		reason, _ := rec.Details["reason"].(string)
		p.trail.RecordAuthFailure(rc.RequestID, rc.ClientIdentity, reason)
	case CodeValidation:
		p.collector.RecordFailure(elapsed, metrics.FailureValidation)
		p.trail.RecordPrediction(rc.RequestID, rc.ClientIdentity, 0,
			float64(elapsed)/float64(time.Millisecond), false, rec.Message)
	default:
		p.collector.RecordFailure(elapsed, metrics.FailureOther)
		p.trail.RecordPrediction(rc.RequestID, rc.ClientIdentity, 0,
			float64(elapsed)/float64(time.Millisecond), false, rec.Message)
	}

	p.logger.Warn("request failed",
		"request_id", rc.RequestID,
		"error_code", string(rec.Code),
		"message", rec.Message,
	)

	return AssembleError(rec)
}

// predict calls the backend, bounded by the optional deadline. The call is
// abandoned once the deadline expires, even if the backend ignores its
// context.
func (p *Pipeline) predict(ctx context.Context, batch Batch) ([]Prediction, error) {
	if p.predictTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.predictTimeout)
		defer cancel()
	}

	type result struct {
		outcomes []Prediction
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		outcomes, err := p.backend.Predict(ctx, batch)
		ch <- result{outcomes, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, p.wrapBackendError(res.err)
		}
		return res.outcomes, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &PredictionError{Message: "backend deadline exceeded", Reason: "timeout"}
		}
		return nil, &PredictionError{Message: ctx.Err().Error(), Reason: "canceled"}
	}
}

// wrapBackendError keeps taxonomy errors as-is and folds anything else the
// backend returned into a PredictionError.
func (p *Pipeline) wrapBackendError(err error) error {
	var (
		nlErr   *NotLoadedError
		loadErr *LoadError
		prdErr  *PredictionError
	)
	if errors.As(err, &nlErr) || errors.As(err, &loadErr) || errors.As(err, &prdErr) {
		return err
	}
	return &PredictionError{Message: err.Error()}
}

// checkProbabilities is a diagnostic only: the backend owns the contract
// that probabilities sum to ~1, the pipeline just flags drift at debug
// level.
func (p *Pipeline) checkProbabilities(requestID string, outcomes []Prediction) {
	if !p.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for i, o := range outcomes {
		var sum float64
		for _, v := range o.Probabilities {
			sum += v
		}
		if math.Abs(sum-1.0) > 1e-3 {
			p.logger.Debug("probabilities do not sum to 1",
				"request_id", requestID,
				"instance", i,
				"sum", sum,
			)
		}
	}
}
