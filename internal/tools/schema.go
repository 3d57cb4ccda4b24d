package tools

import (
	"encoding/json"
	"fmt"

	"github.com/chainreview/core/internal/apperr"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArgs checks raw tool-call arguments against a tool's JSON schema,
// compiling a fresh schema.Schema per call — tool schemas are small and
// invocation-rate bounded by agent turns, so recompilation cost is
// negligible next to the LLM round trip it gates.
func ValidateArgs(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return apperr.Wrap(apperr.Internal, "marshal tool schema: %s", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return apperr.Wrap(apperr.Internal, "unmarshal tool schema: %s", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", schemaDoc); err != nil {
		return apperr.Wrap(apperr.Internal, "add schema resource: %s", err)
	}
	compiled, err := c.Compile("tool.json")
	if err != nil {
		return apperr.Wrap(apperr.Internal, "compile tool schema: %s", err)
	}

	argsRaw, err := json.Marshal(args)
	if err != nil {
		return apperr.Wrap(apperr.ToolArgs, "marshal args: %s", err)
	}
	var argsDoc any
	if err := json.Unmarshal(argsRaw, &argsDoc); err != nil {
		return apperr.Wrap(apperr.ToolArgs, "unmarshal args: %s", err)
	}

	if err := compiled.Validate(argsDoc); err != nil {
		return apperr.Wrap(apperr.ToolArgs, "%s", fmt.Sprint(err))
	}
	return nil
}
