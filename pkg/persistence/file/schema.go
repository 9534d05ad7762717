package file

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/refund-approvals/pkg/persistence"
)

const conditionSchema = `{
	"type": "object",
	"required": ["operator"],
	"properties": {
		"field": {"type": "string"},
		"operator": {"type": "string", "enum": [
			"equals", "notEquals", "greaterThan", "lessThan", "greaterThanOrEqual", "lessThanOrEqual",
			"in", "notIn", "contains", "startsWith", "endsWith", "AND", "OR", "NOT"
		]},
		"value": {},
		"conditions": {"type": ["array", "null"], "items": {"$ref": "#/definitions/condition"}}
	}
}`

const ruleSchema = `{
	"type": "object",
	"required": ["id", "scope_type", "scope_id", "condition"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"scope_type": {"enum": ["MERCHANT", "ORGANIZATION", "PROGRAM", "BANK"]},
		"scope_id": {"type": "string", "minLength": 1},
		"condition": {"$ref": "#/definitions/condition"},
		"approver_roles": {"type": ["array", "null"], "items": {
			"type": "object",
			"required": ["role", "level"],
			"properties": {
				"role": {"type": "string", "minLength": 1},
				"level": {"type": "integer", "minimum": 0}
			}
		}},
		"escalation_timers": {"type": ["array", "null"], "items": {
			"type": "object",
			"required": ["level", "duration"],
			"properties": {
				"level": {"type": "integer", "minimum": 0},
				"duration": {"type": "integer", "minimum": 1},
				"unit": {"enum": ["", "MINUTES", "HOURS", "DAYS"]}
			}
		}},
		"priority": {"type": "integer"},
		"active": {"type": "boolean"},
		"on_timeout": {"enum": ["ESCALATE", "AUTO_APPROVE", "AUTO_REJECT", "NOTIFY_ADMIN"]},
		"final_escalation_target": {"type": "string"}
	}
}`

const workflowSchema = `{
	"type": "object",
	"required": ["id", "scope_type", "scope_id", "trigger_type", "rules"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"scope_type": {"enum": ["MERCHANT", "ORGANIZATION", "PROGRAM", "BANK"]},
		"scope_id": {"type": "string", "minLength": 1},
		"trigger_type": {"enum": ["AMOUNT", "METHOD", "CUSTOMER", "MERCHANT", "CUSTOM"]},
		"threshold": {"type": "number"},
		"restricted_methods": {"type": ["array", "null"], "items": {"type": "string"}},
		"custom_condition": {"$ref": "#/definitions/condition"},
		"rules": {"type": ["array", "null"], "items": {"$ref": "#/definitions/rule"}},
		"on_timeout": {"enum": ["ESCALATE", "AUTO_APPROVE", "AUTO_REJECT", "NOTIFY_ADMIN"]},
		"final_escalation_target": {"type": "string"},
		"active": {"type": "boolean"}
	}
}`

var (
	ruleDocumentSchema     = mustSchema(ruleSchema)
	workflowDocumentSchema = mustSchema(workflowSchema)
)

// mustSchema compiles a document schema with the shared definitions inlined.
func mustSchema(root string) *gojsonschema.Schema {
	doc := strings.Replace(root, `"type": "object",`, `"type": "object",
	"definitions": {"condition": `+conditionSchema+`, "rule": `+ruleSchema+`},`, 1)

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded schema: %v", err))
	}

	return schema
}

// ValidateRuleDocument checks a rule JSON document against the rule schema.
func ValidateRuleDocument(data []byte) error {
	return validateDocument(ruleDocumentSchema, data)
}

// ValidateWorkflowDocument checks a workflow JSON document against the workflow schema.
func ValidateWorkflowDocument(data []byte) error {
	return validateDocument(workflowDocumentSchema, data)
}

func validateDocument(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", persistence.ErrInvalidDocument, err)
	}

	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		messages = append(messages, e.String())
	}

	return fmt.Errorf("%w: %s", persistence.ErrInvalidDocument, strings.Join(messages, "; "))
}
