package model

import (
	"encoding/json"
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// Session is the ONNX Runtime classifier. Input and output tensors are
// preallocated at the shapes declared in the metadata; short final
// batches are zero-padded up to the session batch size and the surplus
// rows discarded.
type Session struct {
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	batchSize    int
	sampleSize   int
	classes      int
}

// NewSession loads the checkpoint at modelPath with shapes taken from
// the metadata file. Missing or malformed files yield a *LoadError.
func NewSession(modelPath, metadataPath string) (*Session, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, &LoadError{Path: metadataPath, Err: fmt.Errorf("read metadata: %w", err)}
	}

	var meta Metadata
	if err := json.Unmarshal(metaFile, &meta); err != nil {
		return nil, &LoadError{Path: metadataPath, Err: fmt.Errorf("parse metadata: %w", err)}
	}
	if err := validateMeta(meta); err != nil {
		return nil, &LoadError{Path: metadataPath, Err: err}
	}

	if _, err := os.Stat(modelPath); err != nil {
		return nil, &LoadError{Path: modelPath, Err: err}
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, &LoadError{Path: modelPath, Err: fmt.Errorf("initialize ONNX environment: %w", err)}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, &LoadError{Path: modelPath, Err: fmt.Errorf("create input tensor: %w", err)}
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, &LoadError{Path: modelPath, Err: fmt.Errorf("create output tensor: %w", err)}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, &LoadError{Path: modelPath, Err: fmt.Errorf("create ONNX session: %w", err)}
	}

	sampleSize := 1
	for _, dim := range meta.InputShape[1:] {
		sampleSize *= int(dim)
	}

	return &Session{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		batchSize:    int(meta.InputShape[0]),
		sampleSize:   sampleSize,
		classes:      int(meta.OutputShape[1]),
	}, nil
}

func validateMeta(meta Metadata) error {
	if len(meta.InputShape) < 2 || len(meta.OutputShape) != 2 {
		return fmt.Errorf("metadata shapes incomplete (input %v, output %v)", meta.InputShape, meta.OutputShape)
	}
	if meta.InputShape[0] != meta.OutputShape[0] {
		return fmt.Errorf("input batch %d does not match output batch %d", meta.InputShape[0], meta.OutputShape[0])
	}
	if meta.OutputShape[1] < 2 {
		return fmt.Errorf("expected at least 2 output classes, got %d", meta.OutputShape[1])
	}
	return nil
}

// Metadata returns the checkpoint metadata.
func (s *Session) Metadata() Metadata { return s.meta }

// Predict implements Classifier.
func (s *Session) Predict(images []float32, n int) ([]int64, error) {
	if n <= 0 || n > s.batchSize {
		return nil, fmt.Errorf("predict: batch of %d exceeds session batch size %d", n, s.batchSize)
	}
	if len(images) != n*s.sampleSize {
		return nil, fmt.Errorf("predict: expected %d values for %d samples, got %d", n*s.sampleSize, n, len(images))
	}

	in := s.inputTensor.GetData()
	copy(in, images)
	for i := len(images); i < len(in); i++ {
		in[i] = 0
	}

	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := s.outputTensor.GetData()
	return Argmax(scores[:n*s.classes], n, s.classes), nil
}

// Close releases the native session and tensors.
func (s *Session) Close() error {
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
	}
	if s.session != nil {
		s.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
