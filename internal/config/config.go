// Package config loads run options from a file, VUGATE_* environment
// variables and command-line overrides, all merged through viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"vugate/internal/runner"
	"vugate/internal/scheduler"
	"vugate/internal/stats"
	"vugate/internal/threshold"
	"vugate/internal/workload"
)

const (
	EnvPrefix       = "VUGATE"
	DefaultFileName = ".vugate"
)

// ErrInvalidOptions wraps every validation failure of a loaded file.
var ErrInvalidOptions = errors.New("invalid options")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Options is the script's options object plus the workload it drives.
type Options struct {
	Stages     []scheduler.Stage   `mapstructure:"stages" validate:"dive"`
	Thresholds map[string][]string `mapstructure:"thresholds"`

	VUs        int           `mapstructure:"vus" validate:"gte=0"`
	Iterations int           `mapstructure:"iterations" validate:"gte=0"`
	Duration   time.Duration `mapstructure:"duration" validate:"gte=0"`

	Pause           time.Duration `mapstructure:"pause" validate:"gte=0"`
	ControlInterval time.Duration `mapstructure:"control_interval" validate:"gte=0"`
	GracefulStop    time.Duration `mapstructure:"graceful_stop" validate:"gte=0"`

	FailedStatuses     []string `mapstructure:"failed_statuses"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`

	Request runner.Request       `mapstructure:"request"`
	Checks  []workload.CheckSpec `mapstructure:"checks" validate:"dive"`
}

// SetDefaults registers the defaults every run starts from.
func SetDefaults(v *viper.Viper) {
	// Zero defaults make the keys known to AutomaticEnv.
	v.SetDefault("vus", 0)
	v.SetDefault("iterations", 0)
	v.SetDefault("duration", time.Duration(0))
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("request.url", "")

	v.SetDefault("pause", runner.DefaultPause)
	v.SetDefault("control_interval", runner.DefaultControlInterval)
	v.SetDefault("graceful_stop", runner.DefaultGracefulStop)
	v.SetDefault("request.method", "GET")
	v.SetDefault("request.timeout", runner.DefaultRequestTimeout)
}

// Load reads path (or $HOME/.vugate.yaml when path is empty and the file
// exists) into v, then decodes and validates the merged options. Flags must
// already be bound to v.
func Load(v *viper.Viper, path string) (Options, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Options{}, errors.Wrapf(err, "read options file %s", path)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultFileName)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Options{}, errors.Wrap(err, "read default options file")
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, errors.Wrap(err, "decode options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks struct tags first, then the parts only the owning package
// can judge: stages, thresholds, status ranges, request templates and checks.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return errors.Wrap(ErrInvalidOptions, strings.Join(fields, ", "))
		}
		return errors.Wrap(err, "validate options")
	}
	if err := scheduler.Validate(o.Stages); err != nil {
		return err
	}
	if _, err := o.ThresholdSet(); err != nil {
		return err
	}
	if _, err := stats.ParseStatusClass(o.FailedStatuses); err != nil {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	if err := runner.NewTemplateEngine().ValidateRequest(o.Request); err != nil {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	if _, err := o.Script(); err != nil {
		return errors.Wrap(ErrInvalidOptions, err.Error())
	}
	return nil
}

// RunnerConfig maps the options onto the runner.
func (o Options) RunnerConfig() (runner.Config, error) {
	failed, err := stats.ParseStatusClass(o.FailedStatuses)
	if err != nil {
		return runner.Config{}, err
	}
	return runner.Config{
		Stages:             o.Stages,
		VUs:                o.VUs,
		Iterations:         o.Iterations,
		Duration:           o.Duration,
		Pause:              o.Pause,
		ControlInterval:    o.ControlInterval,
		GracefulStop:       o.GracefulStop,
		RequestTimeout:     o.Request.Timeout,
		InsecureSkipVerify: o.InsecureSkipVerify,
		FailedStatuses:     failed,
	}, nil
}

func (o Options) ThresholdSet() (threshold.Set, error) {
	return threshold.ParseAll(o.Thresholds)
}

// Script compiles the request and its checks. With no checks declared the
// script asserts a 200 status.
func (o Options) Script() (*workload.Script, error) {
	specs := o.Checks
	if len(specs) == 0 {
		specs = workload.DefaultChecks
	}
	return workload.New(o.Request, specs)
}

// HistoryPath is where run reports are kept unless --history-db says otherwise.
func HistoryPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locate home directory")
	}
	return filepath.Join(home, ".vugate", "history.db"), nil
}
