package model

import "fmt"

// Metadata describes the checkpoint's expected tensor shapes and class
// names. It sits in a JSON file beside the checkpoint.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
}

// LoadError reports a missing or incompatible checkpoint.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }
