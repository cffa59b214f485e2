package services

import (
	"context"
	"fmt"
	"strings"
)

// executeActions 依次执行动作，返回汇总信息；任一动作失败即停止
func (s *AutomationService) executeActions(ctx context.Context, actions []RuleAction, actx ActionContext) (string, error) {
	if len(actions) == 0 {
		return "no actions configured", nil
	}
	done := make([]string, 0, len(actions))
	for _, action := range actions {
		out, err := s.executeAction(ctx, action, actx)
		if err != nil {
			summary := strings.Join(done, "; ")
			return summary, fmt.Errorf("%s: %w", action.Kind(), err)
		}
		done = append(done, out)
	}
	return strings.Join(done, "; "), nil
}

func (s *AutomationService) executeAction(ctx context.Context, action RuleAction, actx ActionContext) (string, error) {
	switch a := action.(type) {
	case GenerateContractAction:
		if s.contracts == nil {
			return "", fmt.Errorf("contract generation unavailable")
		}
		proposalID := a.ProposalID
		if proposalID == 0 {
			proposalID = payloadUint(actx.Payload, "proposalId")
		}
		if proposalID == 0 {
			return "", fmt.Errorf("%w: proposalId", ErrMissingContext)
		}
		contract, created, err := s.contracts.GenerateFromProposal(ctx, proposalID)
		if err != nil {
			return "", err
		}
		if !created {
			return fmt.Sprintf("contract %d already exists for proposal %d", contract.ID, proposalID), nil
		}
		return fmt.Sprintf("generated contract %d for proposal %d", contract.ID, proposalID), nil

	case GenerateInvoiceAction:
		if s.invoices == nil {
			return "", fmt.Errorf("invoice generation unavailable")
		}
		contractID := a.ContractID
		if contractID == 0 {
			contractID = payloadUint(actx.Payload, "contractId")
		}
		if contractID == 0 {
			return "", fmt.Errorf("%w: contractId", ErrMissingContext)
		}
		invoice, created, err := s.invoices.GenerateForContract(ctx, contractID)
		if err != nil {
			return "", err
		}
		if !created {
			return fmt.Sprintf("invoice %s already exists for contract %d", invoice.InvoiceNumber, contractID), nil
		}
		return fmt.Sprintf("generated invoice %s for contract %d", invoice.InvoiceNumber, contractID), nil

	case ExpireContractsAction:
		if s.contracts == nil {
			return "", fmt.Errorf("contract sweep unavailable")
		}
		n, err := s.contracts.ExpirePendingContracts(ctx, s.now())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("expired %d contract(s)", n), nil

	case SendEmailAction:
		return s.sendRuleEmail(ctx, a, actx)

	case NotifyLogAction:
		s.logger.WithField("source", actx.Source).Infof("automation notify: %s", a.Message)
		return "logged: " + a.Message, nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, action.Kind())
	}
}

// sendRuleEmail 渲染主题与正文后发送；"$field" 形式的收件人取自负载
func (s *AutomationService) sendRuleEmail(ctx context.Context, a SendEmailAction, actx ActionContext) (string, error) {
	if s.mailer == nil {
		return "", fmt.Errorf("no mail transport configured")
	}
	recipients := make([]string, 0, len(a.To))
	for _, to := range a.To {
		if strings.HasPrefix(to, "$") {
			v, _ := actx.Payload[strings.TrimPrefix(to, "$")].(string)
			if v == "" {
				return "", fmt.Errorf("%w: %s", ErrMissingContext, strings.TrimPrefix(to, "$"))
			}
			to = v
		}
		recipients = append(recipients, to)
	}

	bindings := map[string]interface{}{"event": string(actx.EventType)}
	for k, v := range actx.Payload {
		bindings[k] = v
	}
	subject, err := s.renderer.Render("", a.Subject, bindings)
	if err != nil {
		return "", err
	}
	body, err := s.renderer.Render("", a.Body, bindings)
	if err != nil {
		return "", err
	}
	for _, to := range recipients {
		sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
		_, err := s.mailer.SendEmail(sendCtx, EmailMessage{To: to, Subject: subject, HTML: body})
		cancel()
		if err != nil {
			return "", fmt.Errorf("send to %s: %w", to, err)
		}
	}
	return fmt.Sprintf("sent %d email(s)", len(recipients)), nil
}

func payloadUint(payload map[string]interface{}, key string) uint {
	if f, ok := toFloat(payload[key]); ok && f > 0 {
		return uint(f)
	}
	return 0
}
