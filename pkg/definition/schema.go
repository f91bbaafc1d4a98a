package definition

// documentSchema is the structural contract for journey definition documents.
// Semantic rules (single trigger, edge integrity, cycle constraints) are
// checked by the compiler after the document parses.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes", "edges"],
  "properties": {
    "entry": {"type": "string"},
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["trigger", "condition", "delay", "action"]},
          "predicate": {"type": "object"},
          "branches": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["label"],
              "properties": {
                "label": {"type": "string", "minLength": 1},
                "predicate": {"type": "object"}
              }
            }
          },
          "default": {"type": "boolean"},
          "duration": {"type": "string"},
          "until": {"type": "string"},
          "untilCron": {"type": "string"},
          "actionType": {"type": "string"},
          "config": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "label": {"type": "string"}
        }
      }
    }
  }
}`
