// Package model exposes the classifier capability consumed by the
// evaluation driver, plus its ONNX Runtime backend.
package model

// Classifier runs a forward pass over a preprocessed batch. Images is
// NCDHW tensor data for n samples; the result is the predicted class
// index per sample, in batch order. Inference only: implementations
// carry no training state, so identical inputs yield identical output.
type Classifier interface {
	Predict(images []float32, n int) ([]int64, error)
	Close() error
}

// Argmax returns the index of the largest score per sample given a
// row-major n×classes score matrix. Ties resolve to the lowest index.
func Argmax(scores []float32, n, classes int) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		row := scores[i*classes : (i+1)*classes]
		best := 0
		for c, v := range row {
			if v > row[best] {
				best = c
			}
		}
		out[i] = int64(best)
	}
	return out
}
