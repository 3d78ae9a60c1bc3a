package utils

import (
	"fmt"
	"os"
	"sort"

	"converter_lib/nn/layers"

	"gopkg.in/yaml.v3"
)

// Config holds the model, task and training configuration of one LRA run.
type Config struct {
	// Model
	PEType       string  `yaml:"pe_type" mapstructure:"pe_type" help:"positional encoding: none, spe, lpe or cpe"`
	VocabSize    int     `yaml:"vocab_size" mapstructure:"vocab_size" help:"vocabulary size including PAD and CLS"`
	EmbedDim     int     `yaml:"embed_dim" mapstructure:"embed_dim" help:"embedding width"`
	MaxSeqLen    int     `yaml:"max_seq_len" mapstructure:"max_seq_len" help:"sequence length including the CLS token"`
	EnableKPM    bool    `yaml:"enable_kpm" mapstructure:"enable_kpm" help:"expand eigenvalues with the kernel polynomial"`
	KernelType   string  `yaml:"kernel_type" mapstructure:"kernel_type" help:"Gibbs damping kernel"`
	MaxOrder     int     `yaml:"max_order" mapstructure:"max_order" help:"highest Chebyshev order"`
	Mu           float64 `yaml:"mu" mapstructure:"mu" help:"lanczos exponent"`
	Xi           float64 `yaml:"xi" mapstructure:"xi" help:"lorentz width"`
	Stigma       float64 `yaml:"stigma" mapstructure:"stigma" help:"wang scale"`
	Heta         float64 `yaml:"heta" mapstructure:"heta" help:"wang exponent"`
	CoefPerBatch bool    `yaml:"coef_per_batch" mapstructure:"coef_per_batch" help:"one Chebyshev coefficient row per batch index"`

	// Task
	DatasetName    string `yaml:"dataset_name" mapstructure:"dataset_name" help:"LRA task name"`
	PoolingType    string `yaml:"pooling_type" mapstructure:"pooling_type" help:"CLS, MEAN, SUM or FLATTEN"`
	EncoderDim     int    `yaml:"encoder_dim" mapstructure:"encoder_dim" help:"encoder output width"`
	MLPDim         int    `yaml:"mlp_dim" mapstructure:"mlp_dim" help:"classifier hidden width"`
	NumClass       int    `yaml:"num_class" mapstructure:"num_class" help:"number of classes"`
	ClassifierType string `yaml:"classifier_type" mapstructure:"classifier_type" help:"single or dual"`
	Interaction    string `yaml:"interaction" mapstructure:"interaction" help:"dual interaction: NLI or concat"`

	// Regularisation
	EmbedDropProb      float64 `yaml:"embed_drop_prob" mapstructure:"embed_drop_prob" help:"embedding dropout"`
	EigenvalueDropProb float64 `yaml:"eigenvalue_drop_prob" mapstructure:"eigenvalue_drop_prob" help:"eigenvalue dropout"`
	ChsyConvDropProb   float64 `yaml:"chsyconv_drop_prob" mapstructure:"chsyconv_drop_prob" help:"value projection dropout"`
	BFFNDropProb       float64 `yaml:"bffn_drop_prob" mapstructure:"bffn_drop_prob" help:"feed-forward dropout"`

	// Training
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size" help:"batch size"`
	LR              float64 `yaml:"lr" mapstructure:"lr" help:"learning rate"`
	WeightDecay     float64 `yaml:"weight_decay" mapstructure:"weight_decay" help:"decoupled weight decay"`
	Epochs          int     `yaml:"epochs" mapstructure:"epochs" help:"maximum epochs"`
	Optimizer       string  `yaml:"optimizer" mapstructure:"optimizer" help:"adamw, nadamw, adan, lion, tiger or sophia"`
	Patience        int     `yaml:"patience" mapstructure:"patience" help:"early stopping patience"`
	Criteria        float64 `yaml:"criteria" mapstructure:"criteria" help:"target test accuracy in percent"`
	EnableKPLoss    bool    `yaml:"enable_kploss" mapstructure:"enable_kploss" help:"add the kernel polynomial loss"`
	KPLossEta       float64 `yaml:"kploss_eta" mapstructure:"kploss_eta" help:"kernel polynomial loss weight"`
	TMax            int     `yaml:"t_max" mapstructure:"t_max" help:"cosine annealing half period in epochs"`
	EtaMin          float64 `yaml:"eta_min" mapstructure:"eta_min" help:"cosine annealing floor"`
	HessianInterval int     `yaml:"hessian_interval" mapstructure:"hessian_interval" help:"steps between Sophia Hessian estimates"`

	// Run
	Seed             uint64 `yaml:"seed" mapstructure:"seed" help:"random seed"`
	DataRoot         string `yaml:"data_root" mapstructure:"data_root" help:"directory holding <task>/<task>_<split>.csv"`
	CheckpointPrefix string `yaml:"checkpoint_prefix" mapstructure:"checkpoint_prefix" help:"checkpoint file prefix"`
	LogLevel         string `yaml:"log_level" mapstructure:"log_level" help:"logrus level"`
}

func baseConfig() Config {
	return Config{
		PEType:           "cpe",
		EnableKPM:        true,
		KernelType:       "none",
		MaxOrder:         2,
		Mu:               3,
		Xi:               4,
		Stigma:           0.5,
		Heta:             2,
		PoolingType:      "CLS",
		ClassifierType:   "single",
		Interaction:      "concat",
		EmbedDropProb:    0.1,
		BFFNDropProb:     0.1,
		BatchSize:        64,
		LR:               0.001,
		WeightDecay:      0.001,
		Epochs:           20,
		Optimizer:        "sophia",
		Patience:         2,
		KPLossEta:        0.01,
		TMax:             3,
		EtaMin:           0.0005,
		HessianInterval:  10,
		Seed:             3407,
		DataRoot:         "./data/lra",
		CheckpointPrefix: "Converter",
		LogLevel:         "info",
	}
}

var presets = map[string]func(*Config){
	"listops": func(c *Config) {
		c.VocabSize = 15 + 1 + 1 // tokens, PAD, CLS
		c.EmbedDim, c.EncoderDim, c.MLPDim = 32, 32, 32
		c.MaxSeqLen = 1999 + 1
		c.NumClass = 10
		c.WeightDecay = 0.0001
		c.Criteria = 39
	},
	"image": func(c *Config) {
		c.VocabSize = 256
		c.EmbedDim, c.EncoderDim, c.MLPDim = 64, 64, 64
		c.MaxSeqLen = 1024
		c.PoolingType = "FLATTEN"
		c.NumClass = 10
		c.Epochs = 15
		c.Criteria = 46
	},
	"pathfinder": func(c *Config) {
		c.VocabSize = 225
		c.EmbedDim, c.EncoderDim, c.MLPDim = 64, 64, 64
		c.MaxSeqLen = 1024
		c.PoolingType = "FLATTEN"
		c.NumClass = 2
		c.BFFNDropProb = 0
		c.Epochs = 50
		c.Criteria = 76
	},
	"text": func(c *Config) {
		c.VocabSize = 95 + 1 + 1
		c.EmbedDim, c.EncoderDim, c.MLPDim = 64, 64, 64
		c.MaxSeqLen = 4096 + 1
		c.NumClass = 2
		c.Criteria = 76
	},
	"retrieval": func(c *Config) {
		c.VocabSize = 96 + 1 + 1
		c.EmbedDim, c.EncoderDim, c.MLPDim = 64, 64, 64
		c.MaxSeqLen = 4000 + 1
		c.NumClass = 2
		c.ClassifierType = "dual"
		c.BatchSize = 256
		c.Epochs = 30
		c.Patience = 5
		c.Criteria = 75
	},
}

// Tasks lists the preset names in sorted order.
func Tasks() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TaskConfig returns the preset configuration of an LRA task.
func TaskConfig(task string) (*Config, error) {
	apply, ok := presets[task]
	if !ok {
		return nil, fmt.Errorf("%w: unknown task %q (want one of %v)", layers.ErrInvalidConfig, task, Tasks())
	}
	c := baseConfig()
	c.DatasetName = task
	apply(&c)
	return &c, nil
}

// KernelConfig converts the kernel fields into a layers.KernelConfig.
func (c *Config) KernelConfig() (layers.KernelConfig, error) {
	k, err := layers.ParseKernelType(c.KernelType)
	if err != nil {
		return layers.KernelConfig{}, err
	}
	return layers.KernelConfig{Type: k, MaxOrder: c.MaxOrder, Mu: c.Mu, Xi: c.Xi, Stigma: c.Stigma, Heta: c.Heta}, nil
}

// KPLossActive reports whether the kernel polynomial loss applies. It is
// only meaningful for kernels that leave the coefficients undamped.
func (c *Config) KPLossActive() bool {
	if !c.EnableKPM || !c.EnableKPLoss {
		return false
	}
	k, err := layers.ParseKernelType(c.KernelType)
	return err == nil && k.Undamped()
}

// ValidateConfig validates training configuration
func ValidateConfig(config *Config) error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: "+format, append([]interface{}{layers.ErrInvalidConfig}, args...)...)
	}
	if _, err := layers.ParsePEType(config.PEType); err != nil {
		return err
	}
	kc, err := config.KernelConfig()
	if err != nil {
		return err
	}
	if config.EnableKPM {
		if err := kc.Validate(); err != nil {
			return err
		}
	}
	switch {
	case config.VocabSize < 2:
		return bad("vocab_size must be at least 2, got %d", config.VocabSize)
	case config.EmbedDim <= 0:
		return bad("embed_dim must be positive, got %d", config.EmbedDim)
	case config.MaxSeqLen <= 0:
		return bad("max_seq_len must be positive, got %d", config.MaxSeqLen)
	case config.EncoderDim != config.EmbedDim:
		return bad("encoder_dim %d must equal embed_dim %d", config.EncoderDim, config.EmbedDim)
	case config.MLPDim <= 0:
		return bad("mlp_dim must be positive, got %d", config.MLPDim)
	case config.NumClass < 2:
		return bad("num_class must be at least 2, got %d", config.NumClass)
	case config.BatchSize <= 0:
		return bad("batch size must be positive, got %d", config.BatchSize)
	case config.LR <= 0:
		return bad("lr must be positive, got %v", config.LR)
	case config.WeightDecay < 0:
		return bad("weight_decay must be non-negative, got %v", config.WeightDecay)
	case config.Epochs <= 0:
		return bad("epochs must be positive, got %d", config.Epochs)
	case config.Patience <= 0:
		return bad("patience must be positive, got %d", config.Patience)
	case config.TMax <= 0:
		return bad("t_max must be positive, got %d", config.TMax)
	case config.HessianInterval <= 0:
		return bad("hessian_interval must be positive, got %d", config.HessianInterval)
	}
	for name, p := range map[string]float64{
		"embed_drop_prob":      config.EmbedDropProb,
		"eigenvalue_drop_prob": config.EigenvalueDropProb,
		"chsyconv_drop_prob":   config.ChsyConvDropProb,
		"bffn_drop_prob":       config.BFFNDropProb,
	} {
		if p < 0 || p >= 1 {
			return bad("%s must be in [0, 1), got %v", name, p)
		}
	}
	return nil
}

// LoadConfigFile reads a YAML config over base. Fields absent from the file
// keep their value in base.
func LoadConfigFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c := *base
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &c, nil
}

// SaveConfigFile writes c as YAML.
func SaveConfigFile(path string, c *Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
