package utils

import (
	"os"
	"path/filepath"
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
)

func TestTensorToWeightData(t *testing.T) {
	ten := tensor.New(2, 3)
	for i := range ten.Data {
		ten.Data[i] = float64(i) * 0.5
	}

	wd := TensorToWeightData("cheb_coef", ten)
	ten.Data[0] = 99 // the copy must not alias

	if wd.Name != "cheb_coef" {
		t.Errorf("Name = %s, want cheb_coef", wd.Name)
	}
	if len(wd.Shape) != 2 || wd.Shape[0] != 2 || wd.Shape[1] != 3 {
		t.Errorf("Shape = %v, want [2, 3]", wd.Shape)
	}
	for i, v := range wd.Data {
		if expected := float64(i) * 0.5; v != expected {
			t.Errorf("Data[%d] = %f, want %f", i, v, expected)
		}
	}
}

func TestWeightDataToTensor(t *testing.T) {
	wd := &WeightData{Name: "w", Shape: []int{3, 4}, Data: make([]float64, 12)}
	for i := range wd.Data {
		wd.Data[i] = float64(i)
	}
	ten := WeightDataToTensor(wd)
	if len(ten.Shape) != 2 || ten.Shape[0] != 3 || ten.Shape[1] != 4 {
		t.Errorf("Shape = %v, want [3, 4]", ten.Shape)
	}
	for i, v := range ten.Data {
		if v != float64(i) {
			t.Errorf("Data[%d] = %f, want %f", i, v, float64(i))
		}
	}
}

func TestCheckpointPath(t *testing.T) {
	if got := CheckpointPath("Converter", "listops"); got != "Converter_listops.pt" {
		t.Errorf("CheckpointPath = %s", got)
	}
}

func testParams() []*layers.Param {
	w := layers.NewParam("fc.weight", 2, 3)
	b := layers.NewParam("fc.bias", 2)
	for i := range w.Value.Data {
		w.Value.Data[i] = float64(i) * 0.1
	}
	b.Value.Data[1] = -1
	return []*layers.Param{w, b}
}

func TestSaveLoadParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), CheckpointPath("Converter", "text"))
	if err := SaveParams(path, "text", testParams()); err != nil {
		t.Fatalf("SaveParams failed: %v", err)
	}

	fresh := []*layers.Param{layers.NewParam("fc.weight", 2, 3), layers.NewParam("fc.bias", 2)}
	if err := LoadParams(path, fresh); err != nil {
		t.Fatalf("LoadParams failed: %v", err)
	}
	if fresh[0].Value.Data[5] != 0.5 {
		t.Errorf("fc.weight[5] = %f, want 0.5", fresh[0].Value.Data[5])
	}
	if fresh[1].Value.Data[1] != -1 {
		t.Errorf("fc.bias[1] = %f, want -1", fresh[1].Value.Data[1])
	}

	ckpt, err := LoadWeights(path)
	if err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if ckpt.Task != "text" || ckpt.Version != CheckpointVersion {
		t.Errorf("header = %q/%q", ckpt.Task, ckpt.Version)
	}
}

func TestLoadParamsShapeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ckpt.pt")
	if err := SaveParams(path, "text", testParams()); err != nil {
		t.Fatal(err)
	}
	wrong := []*layers.Param{layers.NewParam("fc.weight", 3, 2), layers.NewParam("fc.bias", 2)}
	if err := LoadParams(path, wrong); err == nil {
		t.Error("expected shape mismatch")
	}
	missing := []*layers.Param{layers.NewParam("fc.weight", 2, 3), layers.NewParam("other", 2)}
	if err := LoadParams(path, missing); err == nil {
		t.Error("expected missing parameter error")
	}
}

func TestSaveParamsDuplicateName(t *testing.T) {
	ps := testParams()
	ps[1].Name = ps[0].Name
	if err := SaveParams(filepath.Join(t.TempDir(), "dup.pt"), "text", ps); err == nil {
		t.Error("expected duplicate name error")
	}
}

func TestLoadWeightsNotFound(t *testing.T) {
	_, err := LoadWeights("/nonexistent/path/weights.json")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadWeightsInvalidJSON(t *testing.T) {
	badFile := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(badFile, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := LoadWeights(badFile); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}
