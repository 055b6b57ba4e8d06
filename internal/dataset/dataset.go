// Package dataset pairs manifest samples with the preprocessing pipeline
// and streams them as fixed-size batches.
package dataset

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/graymatterlab/voxclass/internal/manifest"
	"github.com/graymatterlab/voxclass/internal/nifti"
	"github.com/graymatterlab/voxclass/internal/transform"
)

// LoadFunc decodes the image at path. The default is nifti.Load.
type LoadFunc func(path string) (*nifti.Volume, error)

// Item is one preprocessed sample.
type Item struct {
	Image  []float32
	Label  int64
	Source string
}

// Batch groups consecutive items. Images is the NCDHW tensor data for
// the whole batch with a single channel per sample.
type Batch struct {
	Images []float32
	Labels []int64
	Meta   []string
	N      int
}

// Dataset applies the pipeline lazily, one sample per Get call.
type Dataset struct {
	samples  []manifest.Sample
	pipeline transform.Transform
	load     LoadFunc
}

// New builds a dataset over samples. A nil load falls back to nifti.Load.
func New(samples []manifest.Sample, pipeline transform.Transform, load LoadFunc) *Dataset {
	if load == nil {
		load = nifti.Load
	}
	return &Dataset{samples: samples, pipeline: pipeline, load: load}
}

// Len reports the number of samples.
func (d *Dataset) Len() int { return len(d.samples) }

// Get loads and preprocesses sample i.
func (d *Dataset) Get(i int) (Item, error) {
	s := d.samples[i]
	vol, err := d.load(s.ImagePath)
	if err != nil {
		return Item{}, err
	}
	if d.pipeline != nil {
		if vol, err = d.pipeline.Apply(vol); err != nil {
			return Item{}, fmt.Errorf("preprocess %s: %w", s.ImagePath, err)
		}
	}
	return Item{Image: vol.Data, Label: s.Label, Source: s.ImagePath}, nil
}

// Loader streams batches in dataset order. Prefetch workers decode and
// preprocess upcoming samples concurrently; delivery order is unaffected
// by worker interleaving. Single pass, no restart.
type Loader struct {
	ds        *Dataset
	batchSize int
	workers   int
}

// NewLoader configures a loader. Nonpositive workers means 1.
func NewLoader(ds *Dataset, batchSize, workers int) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("loader: batch size must be > 0 (got %d)", batchSize)
	}
	if workers <= 0 {
		workers = 1
	}
	return &Loader{ds: ds, batchSize: batchSize, workers: workers}, nil
}

// Len reports the total number of samples the loader will deliver.
func (l *Loader) Len() int { return l.ds.Len() }

type itemResult struct {
	item Item
	err  error
}

// Stream launches the prefetch pipeline. The batch channel closes after
// the last batch; the error channel then yields the first failure, or
// nil on a clean pass.
func (l *Loader) Stream(ctx context.Context) (<-chan Batch, <-chan error) {
	out := make(chan Batch)
	errCh := make(chan error, 1)
	n := l.ds.Len()

	slots := make([]chan itemResult, n)
	for i := range slots {
		slots[i] = make(chan itemResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := 0; i < n; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return
			}
		}
	}()

	for w := 0; w < l.workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				item, err := l.ds.Get(i)
				select {
				case slots[i] <- itemResult{item: item, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	go func() {
		defer close(errCh)
		defer close(out)

		// On cancellation prefer the first worker error over the bare
		// context error.
		abort := func() {
			if err := g.Wait(); err != nil {
				errCh <- err
				return
			}
			errCh <- gctx.Err()
		}

		var batch Batch
		flush := func() bool {
			if batch.N == 0 {
				return true
			}
			select {
			case out <- batch:
				batch = Batch{}
				return true
			case <-gctx.Done():
				return false
			}
		}

		for i := 0; i < n; i++ {
			var res itemResult
			select {
			case res = <-slots[i]:
			case <-gctx.Done():
				abort()
				return
			}
			if res.err != nil {
				errCh <- res.err
				_ = g.Wait()
				return
			}
			batch.Images = append(batch.Images, res.item.Image...)
			batch.Labels = append(batch.Labels, res.item.Label)
			batch.Meta = append(batch.Meta, res.item.Source)
			batch.N++
			if batch.N == l.batchSize {
				if !flush() {
					abort()
					return
				}
			}
		}
		if !flush() {
			abort()
			return
		}
		errCh <- g.Wait()
	}()

	return out, errCh
}
