package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON schema a config file must satisfy
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "max_size": {"type": "integer", "minimum": 0},
        "max_age": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"},
        "redaction": {"type": "boolean"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redact_patterns": {"type": "array", "items": {"type": "string"}}
      }
    },
    "ai": {
      "type": "object",
      "properties": {
        "profiles": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "provider"],
            "properties": {
              "id": {"type": "string", "minLength": 1},
              "provider": {"type": "string", "enum": ["anthropic", "openai"]},
              "api_key": {"type": "string"},
              "model": {"type": "string"},
              "max_tokens": {"type": "integer", "minimum": 0},
              "temperature": {"type": "number", "minimum": 0, "maximum": 1}
            }
          }
        }
      }
    },
    "agent": {
      "type": "object",
      "properties": {
        "system_prompt": {"type": "string"},
        "max_turns": {"type": "integer", "minimum": 0}
      }
    },
    "session": {
      "type": "object",
      "properties": {
        "max_inactive_jobs": {"type": "integer", "minimum": 1}
      }
    },
    "shutdown": {
      "type": "object",
      "properties": {
        "double_interrupt_window_ms": {"type": "integer", "minimum": 1},
        "timeout_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "history": {
      "type": "object",
      "properties": {
        "path": {"type": "string"},
        "limit": {"type": "integer", "minimum": 0}
      }
    },
    "metrics": {
      "type": "object",
      "properties": {
        "addr": {"type": "string"}
      }
    },
    "tracing": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "sample_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "data_dir": {"type": "string"}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ValidateSchema checks raw config JSON against Schema
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}

	return nil
}
