package config

// schemaJSON is the JSON Schema against which a raw filter configuration
// document is validated before decoding. Extends the shape of
// original_source/inject_config.cc's INJECT_SCHEMA with the actions array
// and timeout_ms.
const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["cluster_name"],
  "properties": {
    "trigger_headers": {"type": "array", "items": {"$ref": "#/definitions/constraint"}},
    "antitrigger_headers": {"type": "array", "items": {"$ref": "#/definitions/constraint"}},
    "always_triggered": {"type": "boolean"},
    "include_headers": {"type": "array", "items": {"type": "string"}},
    "include_all_headers": {"type": "boolean"},
    "params": {"type": "object", "additionalProperties": {"type": "string"}},
    "cluster_name": {"type": "string", "minLength": 1},
    "timeout_ms": {"type": "integer", "minimum": 1},
    "actions": {"type": "array", "items": {"$ref": "#/definitions/action"}}
  },
  "definitions": {
    "constraint": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "value": {"type": "string"},
        "kind": {"type": "string", "enum": ["presence", "literal", "regex"]}
      }
    },
    "header": {
      "type": "object",
      "additionalProperties": false,
      "required": ["key", "value"],
      "properties": {
        "key": {"type": "string"},
        "value": {"type": "string"}
      }
    },
    "action": {
      "type": "object",
      "additionalProperties": false,
      "required": ["result"],
      "properties": {
        "result": {"type": "array", "items": {"type": "string"}, "minItems": 1},
        "action": {"type": "string", "enum": ["passthrough", "abort", "dynamic"]},
        "upstream_inject_headers": {"type": "array", "items": {"type": "string"}},
        "upstream_inject_any": {"type": "boolean"},
        "upstream_remove_headers": {"type": "array", "items": {"type": "string"}},
        "downstream_inject_headers": {"type": "array", "items": {"type": "string"}},
        "downstream_inject_any": {"type": "boolean"},
        "downstream_remove_headers": {"type": "array", "items": {"type": "string"}},
        "use_rpc_response": {"type": "boolean"},
        "response_code": {"type": "integer"},
        "response_headers": {"type": "array", "items": {"$ref": "#/definitions/header"}},
        "response_body": {"type": "string"}
      }
    }
  }
}`
