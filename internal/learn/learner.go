// Package learn drives the apply, evaluate, analyze, improve loop over a
// skill for a bounded number of iterations.
package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/tutor/internal/dataset"
	"github.com/nidhogg/tutor/internal/runtime"
	"github.com/nidhogg/tutor/internal/skill"
	"github.com/nidhogg/tutor/internal/store"
)

// DefaultIterations is used when Options.Iterations is not positive.
const DefaultIterations = 3

// VersionStore persists the artifacts of a run. *store.Store satisfies it.
type VersionStore interface {
	SaveVersion(ctx context.Context, v *store.Version) error
	SaveAnalysis(ctx context.Context, a *store.Analysis) error
}

// Recorder receives learning metrics. *metrics.Collector satisfies it.
type Recorder interface {
	RecordEvaluation(skill string, accuracy float64, errors int)
	RecordIteration(skill string, improved bool)
}

// Options configures one Learn call.
type Options struct {
	GroundTruthField string  `json:"ground_truth_field"`
	Iterations       int     `json:"iterations"`
	TargetAccuracy   float64 `json:"target_accuracy"`
	MaxErrors        int     `json:"max_errors"`
}

// Iteration is the record of one pass through the loop.
type Iteration struct {
	N            int     `json:"n"`
	Accuracy     float64 `json:"accuracy"`
	Errors       int     `json:"errors"`
	Report       string  `json:"report,omitempty"`
	Instructions string  `json:"instructions,omitempty"`
	Improved     bool    `json:"improved"`
	Version      int     `json:"version,omitempty"`
}

// Result summarizes a run.
type Result struct {
	RunID        uuid.UUID   `json:"run_id"`
	Skill        string      `json:"skill"`
	Iterations   []Iteration `json:"iterations"`
	Converged    bool        `json:"converged"`
	Instructions string      `json:"instructions"`
}

// Learner runs the loop with a student runtime for predictions and a teacher
// runtime for analysis and rewriting.
type Learner struct {
	student  runtime.Runtime
	teacher  runtime.Runtime
	sampler  *skill.Sampler
	versions VersionStore
	recorder Recorder
	logger   *zap.Logger
}

// NewLearner creates a Learner. A nil teacher falls back to the student.
func NewLearner(student, teacher runtime.Runtime, logger *zap.Logger) *Learner {
	if teacher == nil {
		teacher = student
	}
	return &Learner{
		student: student,
		teacher: teacher,
		sampler: skill.NewSampler(nil),
		logger:  logger.With(zap.String("component", "learn")),
	}
}

// WithStore persists each analysis and each new instruction version.
func (l *Learner) WithStore(vs VersionStore) *Learner {
	l.versions = vs
	return l
}

// WithRecorder reports evaluations and iterations.
func (l *Learner) WithRecorder(r Recorder) *Learner {
	l.recorder = r
	return l
}

// WithSampler replaces the error sampler, for example with a seeded one.
func (l *Learner) WithSampler(s *skill.Sampler) *Learner {
	l.sampler = s
	return l
}

// Learn improves sk against ds until the predictions reach the target
// accuracy, no errors are left, or the iterations run out. The result holds
// every completed iteration even when an error stops the run.
func (l *Learner) Learn(ctx context.Context, sk skill.Skill, ds dataset.Dataset, opts Options) (*Result, error) {
	if opts.GroundTruthField == "" {
		return nil, &skill.ConfigurationError{Skill: sk.Descriptor().Name(), Field: "ground_truth_field", Msg: "a ground truth field is required to learn"}
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}

	name := sk.Descriptor().Name()
	res := &Result{RunID: uuid.New(), Skill: name}
	logger := l.logger.With(zap.String("skill", name), zap.String("run_id", res.RunID.String()))
	logger.Info("learning started", zap.Int("iterations", opts.Iterations), zap.Float64("target_accuracy", opts.TargetAccuracy))

	for n := 1; n <= opts.Iterations; n++ {
		it, err := l.iterate(ctx, sk, ds, opts, res.RunID, n)
		if it != nil {
			res.Iterations = append(res.Iterations, *it)
		}
		if errors.Is(err, errConverged) {
			res.Converged = true
			break
		}
		if err != nil {
			res.Instructions = sk.Descriptor().Instructions()
			return res, fmt.Errorf("learn %s iteration %d: %w", name, n, err)
		}
	}

	res.Instructions = sk.Descriptor().Instructions()
	logger.Info("learning finished", zap.Int("iterations", len(res.Iterations)), zap.Bool("converged", res.Converged))
	return res, nil
}

var errConverged = errors.New("converged")

func (l *Learner) iterate(ctx context.Context, sk skill.Skill, ds dataset.Dataset, opts Options, runID uuid.UUID, n int) (*Iteration, error) {
	name := sk.Descriptor().Name()

	preds, err := sk.Apply(ctx, ds, l.student)
	if err != nil {
		return nil, err
	}
	ev, err := skill.Evaluate(preds, name, opts.GroundTruthField)
	if err != nil {
		return nil, err
	}
	if l.recorder != nil {
		l.recorder.RecordEvaluation(name, ev.Accuracy, ev.Errors.Len())
	}

	it := &Iteration{N: n, Accuracy: ev.Accuracy, Errors: ev.Errors.Len()}
	l.logger.Info("skill evaluated",
		zap.String("skill", name),
		zap.Int("iteration", n),
		zap.Float64("accuracy", ev.Accuracy),
		zap.Int("errors", ev.Errors.Len()),
	)
	if ev.Errors.Len() == 0 || (opts.TargetAccuracy > 0 && ev.Accuracy >= opts.TargetAccuracy) {
		if l.recorder != nil {
			l.recorder.RecordIteration(name, false)
		}
		return it, errConverged
	}

	sample := l.sampler.Sample(ev.Errors, opts.MaxErrors)
	report, err := sk.Analyze(ctx, preds, sample, l.student, l.teacher)
	if err != nil {
		return it, err
	}
	it.Report = report
	if l.versions != nil {
		a := &store.Analysis{Skill: name, RunID: &runID, Iteration: n, Errors: ev.Errors.Len(), Report: report}
		if err := l.versions.SaveAnalysis(ctx, a); err != nil {
			return it, err
		}
	}

	instr, err := sk.Improve(ctx, report, l.teacher)
	if err != nil {
		return it, err
	}
	it.Instructions = instr
	it.Improved = true
	if l.recorder != nil {
		l.recorder.RecordIteration(name, true)
	}

	if l.versions != nil {
		desc, err := json.Marshal(sk.Descriptor().Config().Map())
		if err != nil {
			return it, fmt.Errorf("marshal descriptor: %w", err)
		}
		acc := ev.Accuracy
		v := &store.Version{Skill: name, Instructions: instr, Descriptor: desc, RunID: &runID, BaseAccuracy: &acc}
		if err := l.versions.SaveVersion(ctx, v); err != nil {
			return it, err
		}
		it.Version = v.Version
	}
	return it, nil
}
