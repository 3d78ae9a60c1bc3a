package data

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
	"converter_lib/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestSourceFromConfig(t *testing.T) {
	cfg, err := utils.TaskConfig("retrieval")
	require.NoError(t, err)
	src := SourceFromConfig(cfg)
	assert.Equal(t, 2, src.Inputs)
	assert.Equal(t, cfg.VocabSize-1, src.CLSToken)
	assert.Equal(t, []string{
		filepath.Join(cfg.DataRoot, "retrieval", "retrieval_train_1.csv"),
		filepath.Join(cfg.DataRoot, "retrieval", "retrieval_train_2.csv"),
	}, src.InputPaths(Train))

	cfg, err = utils.TaskConfig("image")
	require.NoError(t, err)
	src = SourceFromConfig(cfg)
	assert.Equal(t, NoCLS, src.CLSToken)
	assert.Equal(t, filepath.Join(cfg.DataRoot, "image", "image_test_target.csv"), src.TargetPath(Val))
	assert.Equal(t, filepath.Join(cfg.DataRoot, "image", "image_train_target.csv"), src.TargetPath(Train))
}

func TestLoadWithCLS(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "listops", "listops_val.csv"), "1,2,3", "4,5,6")
	writeFile(t, filepath.Join(root, "listops", "listops_val_target.csv"), "0", "7")

	ds, err := Load(Source{Root: root, Task: "listops", Inputs: 1, CLSToken: 16}, Val)
	require.NoError(t, err)
	require.Len(t, ds.Inputs, 1)
	assert.Equal(t, []int{2, 4}, ds.Inputs[0].Shape)
	assert.Equal(t, []int{16, 1, 2, 3, 16, 4, 5, 6}, ds.Inputs[0].Data)
	assert.Equal(t, []int{0, 7}, ds.Labels)
}

func TestLoadErrors(t *testing.T) {
	root := t.TempDir()
	src := Source{Root: root, Task: "text", Inputs: 1, CLSToken: NoCLS}
	_, err := Load(src, Train)
	assert.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, filepath.Join(root, "text", "text_train.csv"), "1,2", "3")
	writeFile(t, filepath.Join(root, "text", "text_train_target.csv"), "0", "1")
	_, err = Load(src, Train)
	assert.Error(t, err, "ragged rows")

	writeFile(t, filepath.Join(root, "text", "text_train.csv"), "1,2", "3,4", "5,6")
	_, err = Load(src, Train)
	assert.ErrorIs(t, err, layers.ErrShapeMismatch)

	writeFile(t, filepath.Join(root, "text", "text_train.csv"), "1,x")
	_, err = Load(src, Train)
	assert.Error(t, err)
}

func TestLoadAllDual(t *testing.T) {
	root := t.TempDir()
	for _, split := range []string{"train", "val", "test"} {
		stem := filepath.Join(root, "retrieval", "retrieval_"+split)
		writeFile(t, stem+"_1.csv", "1,2", "3,4")
		writeFile(t, stem+"_2.csv", "5,6", "7,8")
		writeFile(t, stem+"_target.csv", "1", "0")
	}
	splits, err := LoadAll(context.Background(), Source{Root: root, Task: "retrieval", Inputs: 2, CLSToken: NoCLS})
	require.NoError(t, err)
	for _, ds := range []*Dataset{splits.Train, splits.Val, splits.Test} {
		require.NotNil(t, ds)
		require.Len(t, ds.Inputs, 2)
		assert.Equal(t, []int{5, 6, 7, 8}, ds.Inputs[1].Data)
		assert.Equal(t, 2, ds.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = LoadAll(ctx, Source{Root: root, Task: "retrieval", Inputs: 2, CLSToken: NoCLS})
	assert.ErrorIs(t, err, context.Canceled)
}

func sequentialDataset(n int) *Dataset {
	ds := &Dataset{Labels: make([]int, n)}
	rows := make([][]int, n)
	for i := range rows {
		rows[i] = []int{i, i}
		ds.Labels[i] = i
	}
	ids, _ := tensor.IntFromRows(rows)
	ds.Inputs = append(ds.Inputs, ids)
	return ds
}

func TestLoaderDropsLastBatch(t *testing.T) {
	l, err := NewLoader(sequentialDataset(7), 3, false, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, l.NumBatches())

	var seen [][]int
	require.NoError(t, l.Each(func(b *Batch) error {
		assert.Equal(t, []int{3, 2}, b.Inputs[0].Shape)
		seen = append(seen, b.Labels)
		return nil
	}))
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}}, seen)
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	epoch := func(seed uint64) []int {
		l, err := NewLoader(sequentialDataset(10), 5, true, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		var order []int
		require.NoError(t, l.Each(func(b *Batch) error {
			for k, y := range b.Labels {
				assert.Equal(t, y, b.Inputs[0].Row(k)[0], "labels follow their rows")
			}
			order = append(order, b.Labels...)
			return nil
		}))
		return order
	}
	a, b := epoch(3), epoch(3)
	assert.Equal(t, a, b)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, a)
}

func TestNewLoaderRejects(t *testing.T) {
	_, err := NewLoader(sequentialDataset(2), 0, false, nil)
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)
	_, err = NewLoader(sequentialDataset(2), 1, true, nil)
	assert.ErrorIs(t, err, layers.ErrInvalidConfig)
}
