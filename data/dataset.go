// Package data reads the pre-tokenised LRA corpora and batches them.
package data

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"converter_lib/nn/layers"
	"converter_lib/tensor"
	"converter_lib/utils"

	"golang.org/x/sync/errgroup"
)

// Split names a partition of a task corpus.
type Split string

const (
	Train Split = "train"
	Val   Split = "val"
	Test  Split = "test"
)

// NoCLS disables the CLS prefix.
const NoCLS = -1

// Source locates the files of one task.
type Source struct {
	Root string
	Task string
	// Inputs is 2 for paired tasks (retrieval), else 1.
	Inputs int
	// CLSToken is prepended to every sequence unless it is NoCLS.
	CLSToken int
}

// SourceFromConfig derives the file layout from a task config. A CLS token
// (vocab_size − 1) is prepended when the classifier pools with CLS.
func SourceFromConfig(cfg *utils.Config) Source {
	src := Source{Root: cfg.DataRoot, Task: cfg.DatasetName, Inputs: 1, CLSToken: NoCLS}
	if strings.EqualFold(cfg.ClassifierType, "dual") {
		src.Inputs = 2
	}
	if strings.EqualFold(cfg.PoolingType, "CLS") {
		src.CLSToken = cfg.VocabSize - 1
	}
	return src
}

// fileSplit maps a split to its file stem. image and text ship no
// validation split and validate on test.
func (s Source) fileSplit(split Split) Split {
	if split == Val && (s.Task == "image" || s.Task == "text") {
		return Test
	}
	return split
}

// InputPaths returns the token files of a split, one per input stream.
func (s Source) InputPaths(split Split) []string {
	stem := filepath.Join(s.Root, s.Task, fmt.Sprintf("%s_%s", s.Task, s.fileSplit(split)))
	if s.Inputs == 2 {
		return []string{stem + "_1.csv", stem + "_2.csv"}
	}
	return []string{stem + ".csv"}
}

// TargetPath returns the label file of a split.
func (s Source) TargetPath(split Split) string {
	return filepath.Join(s.Root, s.Task, fmt.Sprintf("%s_%s_target.csv", s.Task, s.fileSplit(split)))
}

// Dataset holds N samples of one or two [N, L] token streams plus labels.
type Dataset struct {
	Inputs []*tensor.IntTensor
	Labels []int
}

func (d *Dataset) Len() int { return len(d.Labels) }

// Load reads one split.
func Load(src Source, split Split) (*Dataset, error) {
	ds := &Dataset{}
	for _, path := range src.InputPaths(split) {
		ids, err := readIDs(path, src.CLSToken)
		if err != nil {
			return nil, err
		}
		ds.Inputs = append(ds.Inputs, ids)
	}
	labels, err := readLabels(src.TargetPath(split))
	if err != nil {
		return nil, err
	}
	ds.Labels = labels
	for i, in := range ds.Inputs {
		if in.Shape[0] != len(labels) {
			return nil, fmt.Errorf("%w: %s has %d rows but %d labels", layers.ErrShapeMismatch, src.InputPaths(split)[i], in.Shape[0], len(labels))
		}
	}
	return ds, nil
}

// Splits holds the three partitions of a task.
type Splits struct {
	Train, Val, Test *Dataset
}

// LoadAll reads train, val and test concurrently.
func LoadAll(ctx context.Context, src Source) (*Splits, error) {
	var out Splits
	g, ctx := errgroup.WithContext(ctx)
	for split, dst := range map[Split]**Dataset{Train: &out.Train, Val: &out.Val, Test: &out.Test} {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ds, err := Load(src, split)
			if err != nil {
				return fmt.Errorf("load %s split: %w", split, err)
			}
			*dst = ds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// readIDs parses a CSV of equal-width integer rows into [N, L] (L+1 with a
// CLS prefix).
func readIDs(path string, cls int) (*tensor.IntTensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open token file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true
	var data []int
	rows, width := 0, -1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if width < 0 {
			width = len(rec)
		}
		if cls != NoCLS {
			data = append(data, cls)
		}
		for col, field := range rec {
			v, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, fmt.Errorf("%s:%d:%d: %w", path, rows+1, col+1, err)
			}
			data = append(data, v)
		}
		rows++
	}
	if cls != NoCLS {
		width++
	}
	if width < 0 {
		width = 0
	}
	return &tensor.IntTensor{Data: data, Shape: []int{rows, width}}, nil
}

// readLabels parses one integer label per line.
func readLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 1
	var labels []int
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return labels, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, len(labels)+1, err)
		}
		labels = append(labels, v)
	}
}
