package persistence

import "github.com/santhosh-tekuri/jsonschema/v5"

// stateSchemaJSON 描述状态文件的最低形状要求。
// 通过 JSON 解析但缺少关键字段的文件同样按损坏处理。
const stateSchemaJSON = `{
  "type": "object",
  "required": ["version", "saved_at", "ledger", "bandit", "veto"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "saved_at": {"type": "string"},
    "ledger": {
      "type": "object",
      "required": ["count", "capacity"],
      "properties": {
        "count": {"type": "integer", "minimum": 0},
        "capacity": {"type": "integer", "minimum": 0}
      }
    },
    "bandit": {"type": "object"},
    "veto": {
      "type": "object",
      "required": ["matrix"],
      "properties": {
        "matrix": {
          "type": "object",
          "required": ["true_positive", "false_positive", "true_negative", "false_negative"]
        }
      }
    }
  }
}`

var stateSchema = jsonschema.MustCompileString("state.schema.json", stateSchemaJSON)
