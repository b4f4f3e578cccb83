// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/flowrun/flowrun/internal/base"
)

// Schema is an opaque "validator + JSON-schema describer" pair. The engine
// only ever parses raw input through Validate and hands Describe's result to
// callers (e.g. in a blockedOnStep response schema); it never inspects the
// underlying Go type.
type Schema struct {
	validate func(data json.RawMessage) error
	describe func() map[string]any
}

// Describe returns the JSON-schema serialization of this Schema, or nil if
// none was supplied.
func (s *Schema) Describe() map[string]any {
	if s == nil || s.describe == nil {
		return nil
	}
	return s.describe()
}

// Validate checks data (already JSON-encoded) against this Schema.
func (s *Schema) Validate(data json.RawMessage) error {
	if s == nil || s.validate == nil {
		return nil
	}
	return s.validate(data)
}

// InferSchema builds a Schema for T by reflecting a JSON schema with
// invopop/jsonschema and validating instances of it with gojsonschema.
func InferSchema[T any]() *Schema {
	var zero T
	js := base.InferJSONSchema(zero)
	schemaBytes, err := js.MarshalJSON()
	if err != nil {
		panic(fmt.Sprintf("flow: failed to marshal inferred schema: %v", err))
	}
	return &Schema{
		describe: func() map[string]any { return base.SchemaAsMap(js) },
		validate: func(data json.RawMessage) error {
			return validateRaw(data, schemaBytes)
		},
	}
}

// NewSchema builds a Schema from an explicit (validate, describe) pair, for
// callers that already have a schema (e.g. loaded from a registry) instead
// of a Go type to reflect.
func NewSchema(validate func(json.RawMessage) error, describe func() map[string]any) *Schema {
	return &Schema{validate: validate, describe: describe}
}

func validateRaw(dataBytes, schemaBytes json.RawMessage) error {
	var data any
	if err := json.Unmarshal(dataBytes, &data); err != nil {
		return fmt.Errorf("data is not valid JSON: %w", err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(schemaBytes)
	documentLoader := gojsonschema.NewBytesLoader(dataBytes)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate data against schema: %w", err)
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, "- "+e.String())
		}
		return fmt.Errorf("data did not match schema:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
