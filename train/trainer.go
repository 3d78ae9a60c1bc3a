package train

import (
	"context"
	"fmt"
	"time"

	"converter_lib/data"
	"converter_lib/nn"
	"converter_lib/optim"
	"converter_lib/tensor"
	"converter_lib/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

// Result summarises a pass over a split.
type Result struct {
	Loss     float64
	Accuracy float64 // percent
	MCC      float64
	F1       float64
	Samples  int
}

// Trainer owns one model with its optimizer and schedule.
type Trainer struct {
	Cfg   *utils.Config
	Model nn.Model
	Opt   optim.Optimizer
	Sched optim.LRScheduler
	Log   *logrus.Entry
	Stats *utils.TimingStats

	// CheckpointPath receives the weights on every validation improvement.
	CheckpointPath string

	rng    *rand.Rand
	kp     *nn.KernelPolynomialLoss
	nll    nn.NLLLoss
	steps  int
	epochs int
}

// NewTrainer wires the optimizer, schedule and losses named by cfg.
func NewTrainer(cfg *utils.Config, model nn.Model, rng *rand.Rand, logger *logrus.Logger) (*Trainer, error) {
	kind, err := optim.ParseKind(cfg.Optimizer)
	if err != nil {
		return nil, err
	}
	opt, err := optim.New(kind, model.Params(), optim.Options{WeightDecay: cfg.WeightDecay, BatchSize: cfg.BatchSize})
	if err != nil {
		return nil, err
	}
	sched, err := optim.NewCosineAnnealing(cfg.LR, cfg.EtaMin, cfg.TMax)
	if err != nil {
		return nil, err
	}
	t := &Trainer{
		Cfg:            cfg,
		Model:          model,
		Opt:            opt,
		Sched:          sched,
		Stats:          &utils.TimingStats{},
		CheckpointPath: utils.CheckpointPath(cfg.CheckpointPrefix, cfg.DatasetName),
		rng:            rng,
	}
	if cfg.KPLossActive() {
		t.kp = &nn.KernelPolynomialLoss{Eta: cfg.KPLossEta}
	}
	t.Log = logger.WithFields(logrus.Fields{
		"task":   cfg.DatasetName,
		"run_id": uuid.NewString(),
	})
	return t, nil
}

// Steps returns the number of optimizer steps taken.
func (t *Trainer) Steps() int { return t.steps }

// loss adds the kernel polynomial penalty to the NLL when it is active. The
// penalty gradient goes straight into the coefficients.
func (t *Trainer) loss(logp *tensor.Tensor, labels []int) (float64, *tensor.Tensor, error) {
	start := time.Now()
	defer func() { t.Stats.LossComputationTime += time.Since(start) }()
	l, g, err := t.nll.Forward(logp, labels)
	if err != nil {
		return 0, nil, err
	}
	if t.kp != nil {
		kl, err := t.kp.Forward(t.Model.KernelCoefficients())
		if err != nil {
			return 0, nil, err
		}
		l += kl
	}
	return l, g, nil
}

func (t *Trainer) step(b *data.Batch, lr float64) (float64, *tensor.Tensor, error) {
	t.Model.ZeroGrad()

	start := time.Now()
	logp, err := t.Model.Forward(b.Inputs...)
	t.Stats.ForwardPassTime += time.Since(start)
	if err != nil {
		return 0, nil, err
	}
	l, g, err := t.loss(logp, b.Labels)
	if err != nil {
		return 0, nil, err
	}

	start = time.Now()
	err = t.Model.Backward(g)
	t.Stats.BackwardPassTime += time.Since(start)
	if err != nil {
		return 0, nil, err
	}

	start = time.Now()
	t.Opt.Step(lr)
	t.Stats.UpdateTime += time.Since(start)
	t.steps++

	if h, ok := t.Opt.(optim.HessianEstimator); ok && t.steps%t.Cfg.HessianInterval == 0 {
		if err := t.updateHessian(b, h); err != nil {
			return 0, nil, err
		}
	}
	return l, logp, nil
}

// updateHessian takes one Gauss-Newton-Bartlett sample: the gradient of the
// NLL on labels drawn from the model's own predictions.
func (t *Trainer) updateHessian(b *data.Batch, h optim.HessianEstimator) error {
	start := time.Now()
	defer func() { t.Stats.HessianTime += time.Since(start) }()

	t.Model.ZeroGrad()
	logp, err := t.Model.Forward(b.Inputs...)
	if err != nil {
		return err
	}
	sampled, err := optim.SampleLabels(logp, t.rng)
	if err != nil {
		return err
	}
	_, g, err := t.nll.Forward(logp, sampled)
	if err != nil {
		return err
	}
	if err := t.Model.Backward(g); err != nil {
		return err
	}
	h.UpdateHessian()
	t.Model.ZeroGrad()
	return nil
}

// TrainEpoch runs one shuffled pass at learning rate lr.
func (t *Trainer) TrainEpoch(ctx context.Context, loader *data.Loader, lr float64) (Result, error) {
	t.Model.SetTraining(true)
	defer t.Model.ResetCache()
	var loss, acc AverageMeter
	err := loader.Each(func(b *data.Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		l, logp, err := t.step(b, lr)
		if err != nil {
			return err
		}
		a, err := Accuracy(logp, b.Labels)
		if err != nil {
			return err
		}
		loss.Update(l, len(b.Labels))
		acc.Update(a, len(b.Labels))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Loss: loss.Avg, Accuracy: acc.Avg, Samples: loss.Count}, nil
}

// Evaluate scores a split without dropout or parameter updates.
func (t *Trainer) Evaluate(ctx context.Context, loader *data.Loader) (Result, error) {
	start := time.Now()
	defer func() { t.Stats.EvaluationTime += time.Since(start) }()

	t.Model.SetTraining(false)
	defer t.Model.SetTraining(true)
	var loss, acc AverageMeter
	var preds, labels []int
	err := loader.Each(func(b *data.Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		logp, err := t.Model.Forward(b.Inputs...)
		t.Model.ResetCache()
		if err != nil {
			return err
		}
		l, _, err := t.nll.Forward(logp, b.Labels)
		if err != nil {
			return err
		}
		if t.kp != nil {
			kl, err := t.kp.Forward(t.Model.KernelCoefficients())
			if err != nil {
				return err
			}
			l += kl
		}
		p, err := Predictions(logp)
		if err != nil {
			return err
		}
		a, err := Accuracy(logp, b.Labels)
		if err != nil {
			return err
		}
		loss.Update(l, len(b.Labels))
		acc.Update(a, len(b.Labels))
		preds = append(preds, p...)
		labels = append(labels, b.Labels...)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	// The penalty gradient accumulated above is not wanted outside training.
	t.Model.ZeroGrad()
	res := Result{Loss: loss.Avg, Accuracy: acc.Avg, Samples: loss.Count}
	if res.MCC, err = MCC(preds, labels); err != nil {
		return Result{}, err
	}
	if res.F1, err = MicroF1(preds, labels); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Fit trains until the epoch budget runs out or early stopping fires, then
// reloads the best checkpoint and scores the test split.
func (t *Trainer) Fit(ctx context.Context, splits *data.Splits) (Result, error) {
	total := time.Now()
	defer func() { t.Stats.TotalTime += time.Since(total) }()

	trainLoader, err := data.NewLoader(splits.Train, t.Cfg.BatchSize, true, t.rng)
	if err != nil {
		return Result{}, err
	}
	valLoader, err := data.NewLoader(splits.Val, t.Cfg.BatchSize, false, nil)
	if err != nil {
		return Result{}, err
	}
	testLoader, err := data.NewLoader(splits.Test, t.Cfg.BatchSize, false, nil)
	if err != nil {
		return Result{}, err
	}
	if trainLoader.NumBatches() == 0 {
		return Result{}, fmt.Errorf("train split has %d samples, fewer than one batch of %d", splits.Train.Len(), t.Cfg.BatchSize)
	}

	es, err := NewEarlyStopping(t.Cfg.Patience, 0, func(valLoss float64) error {
		if err := utils.SaveParams(t.CheckpointPath, t.Cfg.DatasetName, t.Model.Params()); err != nil {
			return err
		}
		t.Log.WithFields(logrus.Fields{"val_loss": valLoss, "path": t.CheckpointPath}).Info("Validation loss improved, checkpoint saved")
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for epoch := 0; epoch < t.Cfg.Epochs; epoch++ {
		lr := t.Sched.LR(epoch)
		epochStart := time.Now()
		tr, err := t.TrainEpoch(ctx, trainLoader, lr)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d: %w", epoch+1, err)
		}
		val, err := t.Evaluate(ctx, valLoader)
		if err != nil {
			return Result{}, fmt.Errorf("epoch %d validation: %w", epoch+1, err)
		}
		t.epochs++
		t.Log.WithFields(logrus.Fields{
			"epoch":      epoch + 1,
			"lr":         lr,
			"train_loss": tr.Loss,
			"train_acc":  tr.Accuracy,
			"val_loss":   val.Loss,
			"val_acc":    val.Accuracy,
			"elapsed":    time.Since(epochStart).Round(time.Millisecond),
		}).Info("Epoch finished")

		if _, err := es.Step(val.Loss); err != nil {
			return Result{}, err
		}
		if es.Stop {
			t.Log.WithField("patience", es.Patience).Info("Early stopping")
			break
		}
	}

	if err := utils.LoadParams(t.CheckpointPath, t.Model.Params()); err != nil {
		return Result{}, fmt.Errorf("reload best checkpoint: %w", err)
	}
	res, err := t.Evaluate(ctx, testLoader)
	if err != nil {
		return Result{}, fmt.Errorf("test: %w", err)
	}
	t.Log.WithFields(logrus.Fields{
		"test_loss": res.Loss,
		"test_acc":  res.Accuracy,
		"criteria":  t.Cfg.Criteria,
		"passed":    res.Accuracy >= t.Cfg.Criteria,
	}).Info("Test finished")
	return res, nil
}

// Epochs returns the number of completed epochs.
func (t *Trainer) Epochs() int { return t.epochs }
