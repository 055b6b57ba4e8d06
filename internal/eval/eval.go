// Package eval implements the evaluation loop: batched inference,
// metric accumulation, and prediction persistence.
package eval

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/graymatterlab/voxclass/internal/dataset"
	"github.com/graymatterlab/voxclass/internal/model"
)

// ErrEmptySplit is returned when the validation split selects zero
// samples, in place of an undefined 0/0 accuracy.
var ErrEmptySplit = errors.New("no samples evaluated: validation split is empty")

// BatchSource yields the validation batches, in dataset order, exactly
// once. Len must equal the total sample count across all batches.
type BatchSource interface {
	Len() int
	Stream(ctx context.Context) (<-chan dataset.Batch, <-chan error)
}

// Saver persists per-sample predictions. Finalize is invoked by the
// driver on every exit path and must tolerate repeated calls.
type Saver interface {
	SaveBatch(predictions []int64, meta []string) error
	Finalize() error
}

// Accumulator holds the running metric counts. It is owned by the
// single consuming goroutine; after the loop, Total equals the number
// of validation samples.
type Accumulator struct {
	Correct float64
	Total   int
}

// Result is the outcome of one evaluation run.
type Result struct {
	Accuracy float64
	Correct  float64
	Total    int
}

// MetricLine renders the operator-facing final report.
func (r Result) MetricLine() string {
	return fmt.Sprintf("evaluation metric: %v", r.Accuracy)
}

// Driver walks the batch source through the classifier once and
// accumulates accuracy.
type Driver struct {
	source BatchSource
	clf    model.Classifier
	saver  Saver
	log    *zap.Logger
}

// NewDriver wires the driver's collaborators. A nil logger disables
// logging.
func NewDriver(source BatchSource, clf model.Classifier, saver Saver, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{source: source, clf: clf, saver: saver, log: log}
}

// Run evaluates every batch in order and returns the final accuracy.
// The saver is finalized before returning, also on failure, so rows
// written before an error survive on disk.
func (d *Driver) Run(ctx context.Context) (res Result, err error) {
	defer func() {
		if ferr := d.saver.Finalize(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if d.source.Len() == 0 {
		return Result{}, ErrEmptySplit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var acc Accumulator
	batches, errs := d.source.Stream(ctx)
	for batch := range batches {
		preds, perr := d.clf.Predict(batch.Images, batch.N)
		if perr != nil {
			return Result{}, fmt.Errorf("forward pass: %w", perr)
		}
		matches := 0
		for i, p := range preds {
			if p == batch.Labels[i] {
				matches++
			}
		}
		acc.Total += batch.N
		acc.Correct += float64(matches)

		if serr := d.saver.SaveBatch(preds, batch.Meta); serr != nil {
			return Result{}, fmt.Errorf("save predictions: %w", serr)
		}
		d.log.Debug("batch evaluated",
			zap.Int("size", batch.N),
			zap.Int("correct", matches),
			zap.Int("total", acc.Total))
	}
	if serr := <-errs; serr != nil {
		return Result{}, serr
	}

	res = Result{
		Accuracy: acc.Correct / float64(acc.Total),
		Correct:  acc.Correct,
		Total:    acc.Total,
	}
	d.log.Info("evaluation complete",
		zap.Float64("accuracy", res.Accuracy),
		zap.Int("samples", res.Total))
	return res, nil
}
