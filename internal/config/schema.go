// Package config loads batch definitions from YAML or JSON files.
//
// Example YAML:
//
//	name: "ping storm"
//	target:
//	  address: 127.0.0.1:6379
//	  client: resp
//	variables:
//	  greeting: hello
//	batch:
//	  count: 150
//	  mode: parallel
//	  concurrency: 64
//	  rate: 500             # invocation starts per second, 0 = unpaced
//	  invocationTimeout: 2s
//	  joinTimeout: 30s
//	  commands:
//	    - PING
//	    - "ECHO {{greeting}}"
//	failOnError: false
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Client kinds understood by TargetConfig.Client.
const (
	ClientRESP = "resp"
	ClientExec = "exec"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddress = "127.0.0.1:6379"
	DefaultClient  = ClientRESP
	DefaultMode    = "parallel"
	DefaultBinary  = "redis-cli"
)

// BatchFile is the root of a batch definition.
type BatchFile struct {
	// Name of the run (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Target is the server under test and how to reach it
	Target TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`

	// Variables are substituted into commands as {{name}}
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Batch describes the invocations to issue
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// FailOnError makes any failed invocation fail the run
	FailOnError bool `json:"failOnError,omitempty" yaml:"failOnError,omitempty"`
}

// TargetConfig identifies the endpoint and the client used to reach it.
type TargetConfig struct {
	// Address is host:port of the server under test
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// Client is "resp" (native) or "exec" (external client process)
	Client string `json:"client,omitempty" yaml:"client,omitempty"`

	// Exec configures the external client when Client is "exec"
	Exec ExecConfig `json:"exec,omitempty" yaml:"exec,omitempty"`
}

// ExecConfig configures the external client process.
type ExecConfig struct {
	Binary string   `json:"binary,omitempty" yaml:"binary,omitempty"`
	Args   []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// BatchConfig describes one batch.
type BatchConfig struct {
	Count             int      `json:"count" yaml:"count"`
	Mode              string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	Concurrency       int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Rate              float64  `json:"rate,omitempty" yaml:"rate,omitempty"`
	InvocationTimeout Duration `json:"invocationTimeout,omitempty" yaml:"invocationTimeout,omitempty"`
	JoinTimeout       Duration `json:"joinTimeout,omitempty" yaml:"joinTimeout,omitempty"`
	Commands          []string `json:"commands" yaml:"commands"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
