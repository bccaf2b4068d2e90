package engine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const eventSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "id":        {"type": "string"},
    "type":      {"type": "string", "pattern": "\\S"},
    "timestamp": {"type": "string"},
    "source":    {"type": "string"},
    "data":      {"type": ["object", "null"]},
    "metadata":  {"type": ["object", "null"]},
    "targets":   {"type": "array", "items": {"type": "string"}}
  }
}`

const subscriptionProperties = `{
    "url":         {"type": "string", "pattern": "^https?://"},
    "events": {
      "oneOf": [
        {"type": "array", "items": {"type": "string"}, "minItems": 1},
        {"type": "string", "pattern": "\\S"}
      ]
    },
    "secret":      {"type": "string"},
    "active":      {"type": "boolean"},
    "timeout_ms":  {"type": "integer", "minimum": 1},
    "retries":     {"type": "integer", "minimum": 0, "maximum": 10},
    "description": {"type": "string"},
    "condition":   {"type": "string"},
    "headers":     {"type": "object", "additionalProperties": {"type": "string"}}
  }`

const subscriptionSchema = `{
  "type": "object",
  "required": ["url", "events"],
  "properties": ` + subscriptionProperties + `
}`

// Same fields as a create, none required.
const subscriptionPatchSchema = `{
  "type": "object",
  "properties": ` + subscriptionProperties + `
}`

// PayloadValidator checks request bodies against the built-in JSON Schemas.
type PayloadValidator struct {
	event        *jsonschema.Schema
	subscription *jsonschema.Schema
	patch        *jsonschema.Schema
}

// NewPayloadValidator compiles the built-in schemas. It panics on a bad
// schema since those are compile-time constants.
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{
		event:        mustCompile("storefront://schema/event.json", eventSchema),
		subscription: mustCompile("storefront://schema/subscription.json", subscriptionSchema),
		patch:        mustCompile("storefront://schema/subscription-patch.json", subscriptionPatchSchema),
	}
}

func mustCompile(url, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(fmt.Sprintf("parse schema %s: %v", url, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", url, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("compile schema %s: %v", url, err))
	}
	return compiled
}

// ValidateEvent validates an emit/run request body.
func (v *PayloadValidator) ValidateEvent(body []byte) *AppError {
	return validateAgainst(v.event, body, "Invalid event payload")
}

// ValidateSubscription validates a create-subscription request body.
func (v *PayloadValidator) ValidateSubscription(body []byte) *AppError {
	return validateAgainst(v.subscription, body, "Invalid subscription payload")
}

// ValidateSubscriptionPatch validates an update-subscription request body.
func (v *PayloadValidator) ValidateSubscriptionPatch(body []byte) *AppError {
	return validateAgainst(v.patch, body, "Invalid subscription payload")
}

func validateAgainst(schema *jsonschema.Schema, body []byte, msg string) *AppError {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if err := schema.Validate(inst); err != nil {
		return ValidationError(msg, []ErrorDetail{{Rule: "schema", Message: err.Error()}})
	}
	return nil
}
