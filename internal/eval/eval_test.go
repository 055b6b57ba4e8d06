package eval

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graymatterlab/voxclass/internal/dataset"
	"github.com/graymatterlab/voxclass/internal/manifest"
	"github.com/graymatterlab/voxclass/internal/nifti"
	"github.com/graymatterlab/voxclass/internal/writer"
)

// fixture samples: first manCount labeled 0, the rest labeled 1, image
// data encoding the sample index so stubs can recover it.
func fixtureSamples(n, manCount int) []manifest.Sample {
	samples := make([]manifest.Sample, n)
	for i := range samples {
		var label int64 = 1
		if i < manCount {
			label = 0
		}
		samples[i] = manifest.Sample{
			ImagePath: fmt.Sprintf("/data/subj%02d.nii.gz", i),
			Label:     label,
		}
	}
	return samples
}

func indexLoad(path string) (*nifti.Volume, error) {
	var i int
	if _, err := fmt.Sscanf(path, "/data/subj%d.nii.gz", &i); err != nil {
		return nil, err
	}
	return &nifti.Volume{Data: []float32{float32(i)}, Shape: [3]int{1, 1, 1}}, nil
}

func newLoader(t *testing.T, samples []manifest.Sample, batchSize int) *dataset.Loader {
	t.Helper()
	loader, err := dataset.NewLoader(dataset.New(samples, nil, indexLoad), batchSize, 4)
	require.NoError(t, err)
	return loader
}

// stubClassifier recovers the sample index from the image data and
// predicts its true label, flipped for the indices in wrong.
type stubClassifier struct {
	manCount int
	wrong    map[int]bool
}

func (c *stubClassifier) Predict(images []float32, n int) ([]int64, error) {
	preds := make([]int64, n)
	for i := 0; i < n; i++ {
		idx := int(images[i])
		var label int64 = 1
		if idx < c.manCount {
			label = 0
		}
		if c.wrong[idx] {
			label = 1 - label
		}
		preds[i] = label
	}
	return preds, nil
}

func (c *stubClassifier) Close() error { return nil }

type recordingSaver struct {
	preds     []int64
	meta      []string
	finalized int
	saveErr   error
}

func (s *recordingSaver) SaveBatch(predictions []int64, meta []string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.preds = append(s.preds, predictions...)
	s.meta = append(s.meta, meta...)
	return nil
}

func (s *recordingSaver) Finalize() error {
	s.finalized++
	return nil
}

func TestRunSevenOfNine(t *testing.T) {
	// Mirrors the datalist scenario: entries 21-25 "man", 26-29 "woman",
	// classifier wrong on two samples.
	samples := fixtureSamples(9, 5)
	clf := &stubClassifier{manCount: 5, wrong: map[int]bool{2: true, 7: true}}
	saver := &recordingSaver{}

	driver := NewDriver(newLoader(t, samples, 2), clf, saver, nil)
	res, err := driver.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 9, res.Total)
	assert.Equal(t, 7.0, res.Correct)
	assert.InDelta(t, 7.0/9.0, res.Accuracy, 1e-9)
	assert.Equal(t, "evaluation metric: 0.7777777777777778", res.MetricLine())

	require.Len(t, saver.preds, 9)
	assert.Equal(t, []int64{0, 0, 1, 0, 0, 1, 1, 0, 1}, saver.preds)
	assert.Equal(t, 1, saver.finalized)

	// Prediction rows line up with their source paths, in split order.
	for i, m := range saver.meta {
		assert.Equal(t, fmt.Sprintf("/data/subj%02d.nii.gz", i), m)
	}
}

func TestRunTotalsAcrossBatchSizes(t *testing.T) {
	for _, batchSize := range []int{1, 2, 3, 4, 9, 16} {
		t.Run(fmt.Sprintf("batch%d", batchSize), func(t *testing.T) {
			samples := fixtureSamples(9, 5)
			clf := &stubClassifier{manCount: 5}
			saver := &recordingSaver{}

			driver := NewDriver(newLoader(t, samples, batchSize), clf, saver, nil)
			res, err := driver.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 9, res.Total)
			assert.Equal(t, 1.0, res.Accuracy)
			assert.Len(t, saver.preds, 9)
		})
	}
}

func TestRunAccuracyBounds(t *testing.T) {
	// All wrong: accuracy pinned at 0.
	samples := fixtureSamples(4, 2)
	wrong := map[int]bool{0: true, 1: true, 2: true, 3: true}
	clf := &stubClassifier{manCount: 2, wrong: wrong}
	saver := &recordingSaver{}

	driver := NewDriver(newLoader(t, samples, 2), clf, saver, nil)
	res, err := driver.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Accuracy)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
	assert.True(t, math.Abs(res.Accuracy-res.Correct/float64(res.Total)) < 1e-9)
}

func TestRunEmptySplit(t *testing.T) {
	saver := &recordingSaver{}
	driver := NewDriver(newLoader(t, nil, 2), &stubClassifier{}, saver, nil)

	_, err := driver.Run(context.Background())
	require.ErrorIs(t, err, ErrEmptySplit)
	assert.Empty(t, saver.preds)
	assert.Equal(t, 1, saver.finalized)
}

func TestRunDeterministic(t *testing.T) {
	run := func() (Result, []int64) {
		samples := fixtureSamples(9, 5)
		clf := &stubClassifier{manCount: 5, wrong: map[int]bool{4: true}}
		saver := &recordingSaver{}
		driver := NewDriver(newLoader(t, samples, 2), clf, saver, nil)
		res, err := driver.Run(context.Background())
		require.NoError(t, err)
		return res, saver.preds
	}

	res1, preds1 := run()
	res2, preds2 := run()
	assert.Equal(t, res1, res2)
	assert.Equal(t, preds1, preds2)
}

func TestRunFinalizesOnClassifierError(t *testing.T) {
	samples := fixtureSamples(4, 2)
	saver := &recordingSaver{}
	driver := NewDriver(newLoader(t, samples, 2), failingClassifier{}, saver, nil)

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, saver.finalized)
}

func TestRunSurfacesSaverError(t *testing.T) {
	samples := fixtureSamples(4, 2)
	saver := &recordingSaver{saveErr: errors.New("disk full")}
	driver := NewDriver(newLoader(t, samples, 2), &stubClassifier{manCount: 2}, saver, nil)

	_, err := driver.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, saver.finalized)
}

func TestRunWithCSVSaver(t *testing.T) {
	dir := t.TempDir()
	saver, err := writer.NewCSVSaver(dir)
	require.NoError(t, err)

	samples := fixtureSamples(9, 5)
	clf := &stubClassifier{manCount: 5, wrong: map[int]bool{2: true, 7: true}}
	driver := NewDriver(newLoader(t, samples, 2), clf, saver, nil)

	res, err := driver.Run(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 7.0/9.0, res.Accuracy, 1e-9)

	f, err := os.Open(filepath.Join(dir, "predictions.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 10) // header + 9 samples
	assert.Equal(t, []string{"filename", "class"}, rows[0])
	assert.Equal(t, []string{"/data/subj00.nii.gz", "0"}, rows[1])
}

type failingClassifier struct{}

func (failingClassifier) Predict(images []float32, n int) ([]int64, error) {
	return nil, errors.New("inference failed")
}

func (failingClassifier) Close() error { return nil }
