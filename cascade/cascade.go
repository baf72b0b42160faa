// Package cascade runs a main detector and dispatches each region to the
// sub-models registered for its label on a bounded worker pool.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CascadeDetServer/imaging"
	iface "CascadeDetServer/interface"
	"CascadeDetServer/logger"
	"CascadeDetServer/registry"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrPrimary wraps a main model failure. It aborts the whole call.
	ErrPrimary = errors.New("main model prediction failed")
	// ErrPrediction wraps a sub-model failure. It only affects its own task.
	ErrPrediction = errors.New("sub-model prediction failed")
	// ErrEmptyPrediction is reported when a sub-model returns no result.
	ErrEmptyPrediction = errors.New("sub-model returned no prediction")
)

// Metrics receives dispatch events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	TaskStarted()
	TaskDone(subModel string, outcome Outcome, elapsed time.Duration)
	PredictDone(elapsed time.Duration, err error)
}

type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeGeometry   Outcome = "geometry"
	OutcomePrediction Outcome = "prediction"
)

type nopMetrics struct{}

func (nopMetrics) TaskStarted()                            {}
func (nopMetrics) TaskDone(string, Outcome, time.Duration) {}
func (nopMetrics) PredictDone(time.Duration, error)        {}

type Option func(*Cascade)

func WithMetrics(m Metrics) Option {
	return func(c *Cascade) {
		if m != nil {
			c.metrics = m
		}
	}
}

type Cascade struct {
	reg     *registry.Registry
	metrics Metrics
}

func New(reg *registry.Registry, opts ...Option) *Cascade {
	c := &Cascade{reg: reg, metrics: nopMetrics{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cascade) Registry() *registry.Registry { return c.reg }

// TaskError describes a (region, sub-model) task that produced no result.
type TaskError struct {
	RegionIndex int
	Label       string
	SubModel    string
	Kind        Outcome
	Err         error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("region %d (%s) sub-model %s: %v", e.RegionIndex, e.Label, e.SubModel, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// Result is the annotated output of one Predict call.
type Result struct {
	RequestID string
	Regions   []iface.Region
	Failures  []*TaskError
}

type task struct {
	region int
	sub    registry.SubModel
}

type slot struct {
	pred iface.Region
	kind Outcome
	err  error
}

// Predict runs the main model on frame, then every sub-model registered for
// each region's label on a crop of that region. Region order is the main
// model's order and sub-predictions follow the configured sub-model order.
// Sub-model and crop failures are collected in Result.Failures; only a main
// model failure or ctx ending makes Predict return an error.
func (c *Cascade) Predict(ctx context.Context, frame iface.Frame) (res *Result, err error) {
	start := time.Now()
	defer func() { c.metrics.PredictDone(time.Since(start), err) }()

	id := uuid.NewString()
	log := logger.Log().With(zap.String("request", id))
	log.Debug("Predicting with main model")

	regions, err := c.reg.Main().Predict(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrimary, err)
	}
	for i := range regions {
		regions[i].SubPredictions = nil
	}
	res = &Result{RequestID: id, Regions: regions}

	tasks := c.plan(regions)
	if len(tasks) == 0 {
		log.Info("Cascade done", zap.Int("regions", len(regions)), zap.Int("tasks", 0))
		return res, nil
	}
	workers := min(c.reg.MaxConcurrentRequests(), len(tasks))
	log.Info("Dispatching sub-models",
		zap.Int("regions", len(regions)),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", workers))

	// Each task owns slots[i]; regions are only read until Wait returns.
	slots := make([]slot, len(tasks))
	var g errgroup.Group
	g.SetLimit(workers)
	submitted := 0
	for i, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			slots[i] = c.run(ctx, frame, regions[t.region], t.sub)
			return nil
		})
		submitted++
	}
	_ = g.Wait()
	// A result that finished before ctx ended is still complete.
	if err := ctx.Err(); err != nil && (submitted < len(tasks) || interrupted(slots)) {
		return nil, err
	}

	for i, t := range tasks {
		s := slots[i]
		if s.err != nil {
			te := &TaskError{
				RegionIndex: t.region,
				Label:       regions[t.region].Label,
				SubModel:    t.sub.Name,
				Kind:        s.kind,
				Err:         s.err,
			}
			log.Warn("Sub-model task failed", zap.Error(te))
			res.Failures = append(res.Failures, te)
			continue
		}
		regions[t.region].SubPredictions = append(regions[t.region].SubPredictions, s.pred)
	}
	log.Info("Cascade done",
		zap.Int("regions", len(regions)),
		zap.Int("tasks", len(tasks)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

// interrupted reports whether any task failed because its context ended.
func interrupted(slots []slot) bool {
	for _, s := range slots {
		if errors.Is(s.err, context.Canceled) || errors.Is(s.err, context.DeadlineExceeded) {
			return true
		}
	}
	return false
}

// plan lists the qualifying (region, sub-model) pairs, region-major.
func (c *Cascade) plan(regions []iface.Region) []task {
	var tasks []task
	for i, r := range regions {
		for _, sub := range c.reg.SubModels(r.Label) {
			tasks = append(tasks, task{region: i, sub: sub})
		}
	}
	return tasks
}

func (c *Cascade) run(ctx context.Context, frame iface.Frame, region iface.Region, sub registry.SubModel) (s slot) {
	start := time.Now()
	c.metrics.TaskStarted()
	defer func() {
		if r := recover(); r != nil {
			s = slot{kind: OutcomePrediction, err: fmt.Errorf("%w: panic: %v", ErrPrediction, r)}
		}
		outcome := OutcomeOK
		if s.err != nil {
			outcome = s.kind
		}
		c.metrics.TaskDone(sub.Name, outcome, time.Since(start))
	}()

	crop, px, err := imaging.CropRegion(frame, region.Box, sub.Weights, sub.Conditions)
	if err != nil {
		return slot{kind: OutcomeGeometry, err: err}
	}
	defer crop.Close()
	logger.Log().Debug("Predicting region",
		zap.String("label", region.Label),
		zap.String("subModel", sub.Name),
		zap.Stringer("crop", px))

	preds, err := sub.Model.Predict(ctx, crop)
	if err != nil {
		return slot{kind: OutcomePrediction, err: fmt.Errorf("%w: %w", ErrPrediction, err)}
	}
	if len(preds) == 0 {
		return slot{kind: OutcomePrediction, err: fmt.Errorf("%w: %w", ErrPrediction, ErrEmptyPrediction)}
	}
	return slot{pred: preds[0]}
}
