package middleware

import (
	"bytes"
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/morezero/capability-sdk/pkg/capsdk"
)

// MethodSchema holds the compiled input/output schemas for one method.
type MethodSchema struct {
	Input  *jsonschema.Schema
	Output *jsonschema.Schema
}

// SchemaSource resolves the schema pair for a given (capability, method),
// grounded on the registry's describe() output (spec §4.4,
// resolution.Output.Methods/Schemas).
type SchemaSource func(capability, method string) (MethodSchema, bool)

// CompileSchema compiles a raw JSON-schema document (as decoded into
// map[string]interface{} by the registry) the way
// component_version_registry_implementation.go's validatePlugin does:
// register it under a synthetic resource id, then compile that id.
func CompileSchema(id string, raw map[string]interface{}) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(id, raw); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", id, err)
	}
	return c.Compile(id)
}

// Validate schema-validates params against the method's input schema before
// calling next, and the successful result's data against the output schema
// afterward (spec §4.7, "Input/Output validate"). Failures on input map to
// VALIDATION_ERROR; failures on output (a contract the callee should have
// honored) map to INTERNAL_ERROR.
func Validate(schemas SchemaSource) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, envelope *capsdk.Envelope) (*capsdk.Result, error) {
			schema, ok := schemas(envelope.Capability, envelope.Method)
			if !ok {
				return next(ctx, envelope)
			}

			if schema.Input != nil && len(envelope.Params) > 0 {
				if err := validateRaw(schema.Input, envelope.Params); err != nil {
					return nil, capsdk.NewError(capsdk.CodeValidationError, "input validation failed: "+err.Error())
				}
			}

			result, err := next(ctx, envelope)
			if err != nil || result == nil || !result.Ok {
				return result, err
			}

			if schema.Output != nil && len(result.Data) > 0 {
				if err := validateRaw(schema.Output, result.Data); err != nil {
					return nil, capsdk.NewError(capsdk.CodeInternalError, "output validation failed: "+err.Error())
				}
			}
			return result, nil
		}
	}
}

func validateRaw(schema *jsonschema.Schema, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return schema.Validate(doc)
}
