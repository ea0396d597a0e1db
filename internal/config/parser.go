package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed batch.schema.json
var batchSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("batch.schema.json", strings.NewReader(batchSchema)); err != nil {
			schemaErr = fmt.Errorf("invalid schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("batch.schema.json")
	})
	return compiledSchema, schemaErr
}

// LoadConfig loads a batch file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Anything else is read as YAML.
func LoadConfig(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data, path)
}

// ParseConfig checks data against the batch file schema, decodes it and
// applies defaults. The format is taken from the extension of path.
func ParseConfig(data []byte, path string) (*BatchFile, error) {
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json"

	var doc interface{}
	if isJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	var config BatchFile
	if isJSON {
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	ApplyDefaults(&config)
	return &config, nil
}

// validateDocument runs the JSON schema over a decoded document. YAML values
// are round-tripped through JSON first so the validator sees JSON types.
func validateDocument(doc interface{}) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance interface{}
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err
	}
	errs := &ValidationErrors{}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

// collectSchemaErrors flattens the error tree, keeping only leaves.
func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		field := strings.TrimPrefix(err.InstanceLocation, "/")
		field = strings.ReplaceAll(field, "/", ".")
		errs.Add(field, err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// ApplyDefaults fills in unset fields.
func ApplyDefaults(config *BatchFile) {
	if config.Target.Address == "" {
		config.Target.Address = DefaultAddress
	}
	if config.Target.Client == "" {
		config.Target.Client = DefaultClient
	}
	if config.Target.Client == ClientExec && config.Target.Exec.Binary == "" {
		config.Target.Exec.Binary = DefaultBinary
	}
	if config.Batch.Mode == "" {
		config.Batch.Mode = DefaultMode
	}
	if config.Name == "" {
		config.Name = "fanout"
	}
}

// ResolveVariables replaces every {{name}} in input with its value.
// Unknown placeholders are left as-is.
func ResolveVariables(input string, variables map[string]string) string {
	result := input
	for key, value := range variables {
		result = strings.ReplaceAll(result, "{{"+key+"}}", value)
	}
	return result
}

// CommandLines returns the batch commands with variables resolved.
func (c *BatchFile) CommandLines() []string {
	lines := make([]string, len(c.Batch.Commands))
	for i, line := range c.Batch.Commands {
		lines[i] = ResolveVariables(line, c.Variables)
	}
	return lines
}
