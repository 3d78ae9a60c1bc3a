package utils

import (
	"fmt"
	"reflect"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RegisterFlags adds one flag per Config field, named after its mapstructure
// tag, with def supplying the displayed defaults.
func RegisterFlags(fs *pflag.FlagSet, def *Config) {
	v := reflect.ValueOf(def).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, help := f.Tag.Get("mapstructure"), f.Tag.Get("help")
		if name == "" {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fs.String(name, fv.String(), help)
		case reflect.Int:
			fs.Int(name, int(fv.Int()), help)
		case reflect.Uint64:
			fs.Uint64(name, fv.Uint(), help)
		case reflect.Float64:
			fs.Float64(name, fv.Float(), help)
		case reflect.Bool:
			fs.Bool(name, fv.Bool(), help)
		default:
			panic(fmt.Sprintf("utils: unsupported config field kind %s for %s", fv.Kind(), f.Name))
		}
	}
}

// configValues flattens c into mapstructure key → value.
func configValues(c *Config) map[string]interface{} {
	out := map[string]interface{}{}
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("mapstructure"); name != "" {
			out[name] = v.Field(i).Interface()
		}
	}
	return out
}

// ResolveConfig layers the configuration sources, lowest precedence first:
// the task preset, the YAML file at configPath (if any), then flags the user
// set explicitly. The result is validated.
func ResolveConfig(v *viper.Viper, fs *pflag.FlagSet, task, configPath string) (*Config, error) {
	preset, err := TaskConfig(task)
	if err != nil {
		return nil, err
	}
	for k, val := range configValues(preset) {
		v.SetDefault(k, val)
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}
	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
