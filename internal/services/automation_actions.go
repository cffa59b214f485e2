package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Action kinds accepted in a rule's actions document.
const (
	ActionGenerateContract = "generate_contract"
	ActionGenerateInvoice  = "generate_invoice"
	ActionExpireContracts  = "expire_contracts"
	ActionSendEmail        = "send_email"
	ActionNotifyLog        = "notify_log"
)

const actionsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["type"],
    "additionalProperties": false,
    "properties": {
      "type": {"enum": ["generate_contract", "generate_invoice", "expire_contracts", "send_email", "notify_log"]},
      "params": {"type": "object"}
    },
    "allOf": [
      {
        "if": {"properties": {"type": {"const": "send_email"}}},
        "then": {
          "required": ["params"],
          "properties": {
            "params": {
              "required": ["to", "subject"],
              "properties": {
                "to": {"oneOf": [
                  {"type": "string", "minLength": 1},
                  {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
                ]},
                "subject": {"type": "string", "minLength": 1},
                "body": {"type": "string"}
              }
            }
          }
        }
      },
      {
        "if": {"properties": {"type": {"enum": ["generate_contract", "generate_invoice"]}}},
        "then": {
          "properties": {
            "params": {
              "properties": {
                "proposalId": {"type": "integer", "minimum": 1},
                "contractId": {"type": "integer", "minimum": 1}
              }
            }
          }
        }
      }
    ]
  }
}`

var actionsValidator = jsonschema.MustCompileString("actions.json", actionsSchema)

// RuleAction 解析后的动作变体
type RuleAction interface {
	Kind() string
}

// GenerateContractAction 从被接受的投标生成合同；ProposalID 为 0 时取事件负载中的 proposalId
type GenerateContractAction struct {
	ProposalID uint
}

// GenerateInvoiceAction 为已签署合同生成首期发票；ContractID 为 0 时取事件负载中的 contractId
type GenerateInvoiceAction struct {
	ContractID uint
}

// ExpireContractsAction 将过期未签的合同置为 EXPIRED
type ExpireContractsAction struct{}

// SendEmailAction 向固定地址或负载字段发送一封邮件；To 中以 "$" 开头的条目引用负载字段
type SendEmailAction struct {
	To      []string
	Subject string
	Body    string
}

// NotifyLogAction 写一条日志
type NotifyLogAction struct {
	Message string
}

func (GenerateContractAction) Kind() string { return ActionGenerateContract }
func (GenerateInvoiceAction) Kind() string  { return ActionGenerateInvoice }
func (ExpireContractsAction) Kind() string  { return ActionExpireContracts }
func (SendEmailAction) Kind() string        { return ActionSendEmail }
func (NotifyLogAction) Kind() string        { return ActionNotifyLog }

type rawAction struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params"`
}

// ParseActions 校验并将动作文档转换为强类型列表
func ParseActions(raw string) ([]RuleAction, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	doc, err := decodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
	}
	if err := actionsValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
	}

	var items []rawAction
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidActions, err)
	}

	actions := make([]RuleAction, 0, len(items))
	for _, item := range items {
		switch item.Type {
		case ActionGenerateContract:
			actions = append(actions, GenerateContractAction{ProposalID: paramUint(item.Params, "proposalId")})
		case ActionGenerateInvoice:
			actions = append(actions, GenerateInvoiceAction{ContractID: paramUint(item.Params, "contractId")})
		case ActionExpireContracts:
			actions = append(actions, ExpireContractsAction{})
		case ActionSendEmail:
			actions = append(actions, SendEmailAction{
				To:      paramStrings(item.Params, "to"),
				Subject: paramString(item.Params, "subject"),
				Body:    paramString(item.Params, "body"),
			})
		case ActionNotifyLog:
			msg := paramString(item.Params, "message")
			if msg == "" {
				msg = "automation rule fired"
			}
			actions = append(actions, NotifyLogAction{Message: msg})
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownAction, item.Type)
		}
	}
	return actions, nil
}

func paramUint(params map[string]interface{}, key string) uint {
	if f, ok := toFloat(params[key]); ok && f > 0 {
		return uint(f)
	}
	return 0
}

func paramString(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func paramStrings(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case string:
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
