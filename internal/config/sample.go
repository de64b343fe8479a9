package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"vugate/internal/threshold"
)

// SampleURL is the baseline endpoint the sample options file points at.
const SampleURL = "http://localhost:5000/test/baseline"

type sampleStage struct {
	Duration string `yaml:"duration"`
	Target   int    `yaml:"target"`
}

type sampleRequest struct {
	Method  string `yaml:"method"`
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
}

type sampleCheck struct {
	Name   string `yaml:"name"`
	Status int    `yaml:"status"`
}

type sampleFile struct {
	Stages     []sampleStage       `yaml:"stages"`
	Thresholds map[string][]string `yaml:"thresholds"`
	Pause      string              `yaml:"pause"`
	Request    sampleRequest       `yaml:"request"`
	Checks     []sampleCheck       `yaml:"checks"`
}

// Sample ramps to 50 VUs over 30s against the baseline endpoint, gated on a
// failure rate under 1% and a p95 under one second.
func Sample() ([]byte, error) {
	s := sampleFile{
		Stages: []sampleStage{{Duration: "30s", Target: 50}},
		Thresholds: map[string][]string{
			threshold.MetricHTTPReqFailed:   {"rate<0.01"},
			threshold.MetricHTTPReqDuration: {"p(95)<1000"},
		},
		Pause: "1s",
		Request: sampleRequest{
			Method:  "GET",
			URL:     SampleURL,
			Timeout: "60s",
		},
		Checks: []sampleCheck{{Name: "is status 200", Status: 200}},
	}
	data, err := yaml.Marshal(s)
	return data, errors.Wrap(err, "encode sample")
}

// WriteSample writes Sample to path. An existing file is kept unless force.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("%s already exists", path)
		}
	}
	data, err := Sample()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0644), "write %s", path)
}
