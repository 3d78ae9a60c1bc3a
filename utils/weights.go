package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
)

// CheckpointVersion is written into every checkpoint file.
const CheckpointVersion = "1"

// WeightData represents serializable weight data for a parameter
type WeightData struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Checkpoint is a saved model state.
type Checkpoint struct {
	Version string                 `json:"version"`
	Task    string                 `json:"task"`
	SavedAt time.Time              `json:"saved_at"`
	Params  map[string]*WeightData `json:"params"`
}

// CheckpointPath returns <prefix>_<dataset>.pt.
func CheckpointPath(prefix, dataset string) string {
	return prefix + "_" + dataset + ".pt"
}

// SaveWeights writes a checkpoint to a JSON file
func SaveWeights(filepath string, ckpt *Checkpoint) error {
	data, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	return os.WriteFile(filepath, data, 0644)
}

// LoadWeights loads a checkpoint from a JSON file
func LoadWeights(filepath string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read weights file: %w", err)
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	if ckpt.Version != CheckpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %q", ckpt.Version)
	}
	return &ckpt, nil
}

// SaveParams snapshots params into a checkpoint file.
func SaveParams(filepath, task string, params []*layers.Param) error {
	ckpt := &Checkpoint{
		Version: CheckpointVersion,
		Task:    task,
		SavedAt: time.Now().UTC(),
		Params:  make(map[string]*WeightData, len(params)),
	}
	for _, p := range params {
		if _, dup := ckpt.Params[p.Name]; dup {
			return fmt.Errorf("duplicate parameter name %q", p.Name)
		}
		ckpt.Params[p.Name] = TensorToWeightData(p.Name, p.Value)
	}
	return SaveWeights(filepath, ckpt)
}

// LoadParams restores params in place from a checkpoint file. Every
// parameter must be present with a matching shape.
func LoadParams(filepath string, params []*layers.Param) error {
	ckpt, err := LoadWeights(filepath)
	if err != nil {
		return err
	}
	if len(ckpt.Params) != len(params) {
		return fmt.Errorf("%w: checkpoint has %d parameters, model has %d", layers.ErrShapeMismatch, len(ckpt.Params), len(params))
	}
	for _, p := range params {
		wd, ok := ckpt.Params[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint %s has no parameter %q", filepath, p.Name)
		}
		t := WeightDataToTensor(wd)
		if !tensor.SameShape(t, p.Value) || len(wd.Data) != len(p.Value.Data) {
			return fmt.Errorf("%w: parameter %q has shape %v in checkpoint, %v in model", layers.ErrShapeMismatch, p.Name, wd.Shape, p.Value.Shape)
		}
		copy(p.Value.Data, t.Data)
	}
	return nil
}

// TensorToWeightData converts a tensor to serializable weight data
func TensorToWeightData(name string, t *tensor.Tensor) *WeightData {
	return &WeightData{
		Name:  name,
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64{}, t.Data...), // copy
	}
}

// WeightDataToTensor converts weight data back to a tensor
func WeightDataToTensor(wd *WeightData) *tensor.Tensor {
	t := tensor.New(wd.Shape...)
	copy(t.Data, wd.Data)
	return t
}
