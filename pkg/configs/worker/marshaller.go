package worker

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	xe "github.com/elderproject/elder-worker/pkg/errors"
)

// Option configures how a config is read.
type Option func(*viper.Viper) error

// WithFlags lets flags override the file and the environment.
//
// Only flags named in FlagNames and present in fs are bound.
// A flag takes effect when it is set on the command line.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(v *viper.Viper) error {
		for key, name := range FlagNames {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
		return nil
	}
}

// FlagNames maps config keys to the names of flags overriding them.
var FlagNames = map[string]string{
	"database": "database",
	"workerId": "worker-id",
	"httpAddr": "http-addr",
	"logLevel": "log-level",
	"fixtures": "enable-fixtures",
}

// Load builds Config from the optional file at path, overlaid with the environment.
//
// path may be empty, when only the environment and defaults are used.
func Load(path string, options ...Option) (*Config, error) {
	m, err := LoadMarshall(path, options...)
	if err != nil {
		return nil, err
	}
	return m.Seal()
}

// LoadMarshall is Load without sealing.
//
// Values are taken in the order: flags (with WithFlags) > environment > file.
// Defaults are left to Seal.
func LoadMarshall(path string, options ...Option) (*ConfigMarshall, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, xe.Wrap(err)
		}
	}
	if err := bindEnv(v); err != nil {
		return nil, xe.Wrap(err)
	}
	for _, o := range options {
		if err := o(v); err != nil {
			return nil, xe.Wrap(err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*ConfigMarshall, error) {
	m := &ConfigMarshall{}
	if err := v.Unmarshal(
		m,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			durationHook,
			mapstructure.StringToSliceHookFunc(","),
		)),
		func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" },
	); err != nil {
		return nil, xe.Wrap(err)
	}
	return m, nil
}

// durationHook reads Go durations ("90s"), and bare integers as seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch d := data.(type) {
	case string:
		if secs, err := strconv.Atoi(d); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		dur, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("%q is neither a duration nor seconds", d)
		}
		return dur, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	}
	return data, nil
}
