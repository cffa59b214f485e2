package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"freelancehub/internal/metrics"
	"freelancehub/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Execution sources recorded on AutomationLog.Source.
const (
	SourceEvent    = "event"
	SourceSchedule = "schedule"
	SourceManual   = "manual"
	SourceAdHoc    = "adhoc"
)

var tracer = otel.Tracer("freelancehub/automation")

// ActionContext 动作执行上下文；事件路径下携带触发事件的负载
type ActionContext struct {
	Source    string
	EventType EventType
	Payload   map[string]interface{}
}

// AutomationRuleRequest 创建规则的请求
type AutomationRuleRequest struct {
	UserID     uint            `json:"user_id"`
	Name       string          `json:"name" binding:"required"`
	Trigger    string          `json:"trigger" binding:"required"`
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions"`
	Active     *bool           `json:"active"`
}

// RuleFilter 规则列表过滤条件
type RuleFilter struct {
	UserID  uint
	Trigger string
}

// LogFilter 审计日志查询条件
type LogFilter struct {
	RuleID *uint
	UserID *uint
	Status string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// loadedRule 已解析的规则
type loadedRule struct {
	rule       models.AutomationRule
	conditions *ConditionSet
	actions    []RuleAction
}

// AutomationService 规则存储、事件分发与动作执行
type AutomationService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	retry     RetryPolicy
	contracts *ContractService
	invoices  *InvoiceService
	mailer    Mailer
	renderer  *TemplateRenderer

	mailTimeout            time.Duration
	defaultIntervalMinutes int
	now                    func() time.Time
}

// AutomationDeps 动作执行需要的下游服务
type AutomationDeps struct {
	Contracts   *ContractService
	Invoices    *InvoiceService
	Mailer      Mailer
	Renderer    *TemplateRenderer
	MailTimeout time.Duration
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger, retry RetryPolicy, deps AutomationDeps, defaultIntervalMinutes int) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	if deps.Renderer == nil {
		deps.Renderer = NewTemplateRenderer()
	}
	if deps.MailTimeout <= 0 {
		deps.MailTimeout = 10 * time.Second
	}
	if defaultIntervalMinutes <= 0 {
		defaultIntervalMinutes = 1440
	}
	return &AutomationService{
		db:                     db,
		logger:                 logger,
		retry:                  retry,
		contracts:              deps.Contracts,
		invoices:               deps.Invoices,
		mailer:                 deps.Mailer,
		renderer:               deps.Renderer,
		mailTimeout:            deps.MailTimeout,
		defaultIntervalMinutes: defaultIntervalMinutes,
		now:                    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRule 校验条件与动作文档后保存规则
func (s *AutomationService) CreateRule(ctx context.Context, req *AutomationRuleRequest) (*models.AutomationRule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if req.Trigger != models.TriggerEventBased && req.Trigger != models.TriggerScheduled {
		return nil, ErrInvalidTrigger
	}
	condJSON := strings.TrimSpace(string(req.Conditions))
	if condJSON == "" || condJSON == "null" {
		condJSON = "{}"
	}
	conds, err := ParseConditions(condJSON)
	if err != nil {
		return nil, err
	}
	if req.Trigger == models.TriggerEventBased {
		if err := validateEventFilter(conds); err != nil {
			return nil, err
		}
	}
	actJSON := strings.TrimSpace(string(req.Actions))
	if actJSON == "" || actJSON == "null" {
		actJSON = "[]"
	}
	if _, err := ParseActions(actJSON); err != nil {
		return nil, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	rule := &models.AutomationRule{
		UserID:     req.UserID,
		Name:       req.Name,
		Trigger:    req.Trigger,
		Conditions: condJSON,
		Actions:    actJSON,
		IsActive:   active,
	}
	err = s.retry.Do(ctx, func(ctx context.Context) error {
		rule.ID = 0
		return s.db.WithContext(ctx).Create(rule).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// validateEventFilter 拒绝只引用未知事件类型的 eventType 过滤
func validateEventFilter(conds *ConditionSet) error {
	if !conds.HasEventFilter() {
		return nil
	}
	for _, t := range AllEventTypes() {
		if conds.ReferencesEvent(string(t)) {
			return nil
		}
	}
	return fmt.Errorf("%w: eventType filter matches no known event", ErrInvalidConditions)
}

// ListRules 返回规则，按 ID 降序
func (s *AutomationService) ListRules(ctx context.Context, filter RuleFilter) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		q := s.db.WithContext(ctx).Order("id DESC")
		if filter.UserID != 0 {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.Trigger != "" {
			q = q.Where("trigger_type = ?", filter.Trigger)
		}
		return q.Find(&rules).Error
	})
	return rules, err
}

// GetRule 按 ID 查询规则
func (s *AutomationService) GetRule(ctx context.Context, id uint) (*models.AutomationRule, error) {
	var rule models.AutomationRule
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).First(&rule, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// SetRuleActive 启用或停用规则
func (s *AutomationService) SetRuleActive(ctx context.Context, id uint, active bool) (*models.AutomationRule, error) {
	var affected int64
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		res := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).Update("is_active", active)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, ErrRuleNotFound
	}
	return s.GetRule(ctx, id)
}

// loadRules 解析规则文档；无效文档跳过并告警
func (s *AutomationService) loadRules(rules []models.AutomationRule) []loadedRule {
	out := make([]loadedRule, 0, len(rules))
	for _, r := range rules {
		conds, err := ParseConditions(r.Conditions)
		if err != nil {
			s.logger.WithField("rule_id", r.ID).Warnf("automation: skipping rule with invalid conditions: %v", err)
			continue
		}
		actions, err := ParseActions(r.Actions)
		if err != nil {
			s.logger.WithField("rule_id", r.ID).Warnf("automation: skipping rule with invalid actions: %v", err)
			continue
		}
		out = append(out, loadedRule{rule: r, conditions: conds, actions: actions})
	}
	return out
}

// listEventRules 启用的 EVENT_BASED 规则中 eventType 过滤接受该事件的部分
func (s *AutomationService) listEventRules(ctx context.Context, t EventType) ([]loadedRule, error) {
	var rules []models.AutomationRule
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("is_active = ? AND trigger_type = ?", true, models.TriggerEventBased).
			Find(&rules).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load event rules: %w", err)
	}
	candidates := make([]loadedRule, 0, len(rules))
	for _, lr := range s.loadRules(rules) {
		if lr.conditions.ReferencesEvent(string(t)) {
			candidates = append(candidates, lr)
		}
	}
	return candidates, nil
}

// listDueScheduledRules 启用的 SCHEDULED 规则中 next_run 为空或已到期的部分
func (s *AutomationService) listDueScheduledRules(ctx context.Context, now time.Time) ([]loadedRule, error) {
	var rules []models.AutomationRule
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("is_active = ? AND trigger_type = ?", true, models.TriggerScheduled).
			Where("next_run IS NULL OR next_run <= ?", now).
			Order("id ASC").
			Find(&rules).Error
	})
	if err != nil {
		return nil, fmt.Errorf("load due rules: %w", err)
	}
	return s.loadRules(rules), nil
}

// HandleEvent 事件分发：筛选候选规则、评估条件、执行并记录
// 单个规则失败不影响其他规则
func (s *AutomationService) HandleEvent(ctx context.Context, evt Event) {
	ctx, span := tracer.Start(ctx, "automation.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("event.type", string(evt.Type)))

	rules, err := s.listEventRules(ctx, evt.Type)
	if err != nil {
		s.logger.Warnf("automation: %v", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	payload := make(map[string]interface{}, len(evt.Payload)+1)
	for k, v := range evt.Payload {
		payload[k] = v
	}
	payload[conditionKeyEventType] = string(evt.Type)

	matched := 0
	for _, lr := range rules {
		if !lr.conditions.Match(payload) {
			continue
		}
		matched++
		actx := ActionContext{Source: SourceEvent, EventType: evt.Type, Payload: payload}
		if _, err := s.runRule(ctx, lr, actx, nil); err != nil {
			s.logger.WithFields(logrus.Fields{"rule_id": lr.rule.ID, "event": evt.Type}).Warnf("automation: rule failed: %v", err)
		}
	}
	span.SetAttributes(attribute.Int("rules.matched", matched))
}

// SweepScheduledRules 执行所有到期的 SCHEDULED 规则，无论成败都推进 next_run
func (s *AutomationService) SweepScheduledRules(ctx context.Context, now time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "automation.sweep")
	defer span.End()

	rules, err := s.listDueScheduledRules(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, lr := range rules {
		next := lr.conditions.NextRun(now, s.defaultIntervalMinutes)
		actx := ActionContext{Source: SourceSchedule, Payload: map[string]interface{}{}}
		if _, err := s.runRule(ctx, lr, actx, &next); err != nil {
			s.logger.WithField("rule_id", lr.rule.ID).Warnf("automation: scheduled rule failed: %v", err)
		}
	}
	span.SetAttributes(attribute.Int("rules.run", len(rules)))
	return len(rules), nil
}

// RunRuleNow 手动执行一条规则（不论触发类型），计数与日志与其他路径一致
func (s *AutomationService) RunRuleNow(ctx context.Context, id uint, payload map[string]interface{}) (*models.AutomationLog, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	loaded := s.loadRules([]models.AutomationRule{*rule})
	if len(loaded) == 0 {
		return nil, fmt.Errorf("%w: rule %d cannot be loaded", ErrInvalidActions, id)
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	entry, _ := s.runRule(ctx, loaded[0], ActionContext{Source: SourceManual, Payload: payload}, nil)
	return entry, nil
}

// ExecuteAdHoc 执行不属于任何规则的动作文档，日志的 rule_id 为空
func (s *AutomationService) ExecuteAdHoc(ctx context.Context, userID uint, actionsJSON string, payload map[string]interface{}) (*models.AutomationLog, error) {
	actions, err := ParseActions(actionsJSON)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	actx := ActionContext{Source: SourceAdHoc, Payload: payload}

	start := time.Now()
	msg, execErr := s.executeActions(ctx, actions, actx)
	entry := s.newLogEntry(nil, userID, actx, msg, execErr, time.Since(start))
	metrics.IncRuleRun(SourceAdHoc, entry.Status)
	if err := s.writeLog(context.WithoutCancel(ctx), entry); err != nil {
		return entry, err
	}
	return entry, execErr
}

// ExecuteAutomationActions 执行规则的全部动作；第一个失败的动作终止该规则的后续动作
func (s *AutomationService) ExecuteAutomationActions(ctx context.Context, rule *models.AutomationRule, actx ActionContext) (string, error) {
	actions, err := ParseActions(rule.Actions)
	if err != nil {
		return "", err
	}
	return s.executeActions(ctx, actions, actx)
}

// runRule 执行、计数并写审计日志；nextRun 非空时一并更新
func (s *AutomationService) runRule(ctx context.Context, lr loadedRule, actx ActionContext, nextRun *time.Time) (entry *models.AutomationLog, err error) {
	ctx, span := tracer.Start(ctx, "automation.rule", trace.WithAttributes(
		attribute.Int64("rule.id", int64(lr.rule.ID)),
		attribute.String("automation.source", actx.Source),
	))
	defer span.End()

	start := time.Now()
	var msg string
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("action panicked: %v", r)
				s.logger.WithField("rule_id", lr.rule.ID).Errorf("automation: %v\n%s", err, debug.Stack())
			}
		}()
		msg, err = s.executeActions(ctx, lr.actions, actx)
	}()
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rule failed")
	}

	// 计数与审计日志必须落库，即使调用方已取消
	bookCtx := context.WithoutCancel(ctx)
	if rerr := s.recordExecution(bookCtx, lr.rule.ID, err == nil, nextRun); rerr != nil {
		s.logger.WithField("rule_id", lr.rule.ID).Errorf("automation: update counters: %v", rerr)
	}
	ruleID := lr.rule.ID
	entry = s.newLogEntry(&ruleID, lr.rule.UserID, actx, msg, err, elapsed)
	if werr := s.writeLog(bookCtx, entry); werr != nil {
		s.logger.WithField("rule_id", lr.rule.ID).Errorf("automation: write log: %v", werr)
	}
	metrics.IncRuleRun(actx.Source, entry.Status)
	return entry, err
}

// recordExecution 以 col = col + 1 方式更新计数
func (s *AutomationService) recordExecution(ctx context.Context, ruleID uint, success bool, nextRun *time.Time) error {
	updates := map[string]interface{}{
		"last_run":  s.now(),
		"run_count": gorm.Expr("run_count + ?", 1),
	}
	if success {
		updates["success_count"] = gorm.Expr("success_count + ?", 1)
	} else {
		updates["error_count"] = gorm.Expr("error_count + ?", 1)
	}
	if nextRun != nil {
		updates["next_run"] = nextRun.UTC()
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", ruleID).Updates(updates).Error
	})
}

func (s *AutomationService) newLogEntry(ruleID *uint, userID uint, actx ActionContext, msg string, err error, elapsed time.Duration) *models.AutomationLog {
	entry := &models.AutomationLog{
		ExecutionID: uuid.NewString(),
		RuleID:      ruleID,
		UserID:      userID,
		Source:      actx.Source,
		EventType:   string(actx.EventType),
		Status:      models.LogStatusSuccess,
		Message:     msg,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Status = models.LogStatusFailed
		entry.Error = err.Error()
		if entry.Message == "" {
			entry.Message = "automation failed"
		}
	}
	if len(actx.Payload) > 0 {
		if b, jerr := json.Marshal(actx.Payload); jerr == nil {
			entry.Payload = string(b)
		}
	}
	return entry
}

func (s *AutomationService) writeLog(ctx context.Context, entry *models.AutomationLog) error {
	return s.retry.Do(ctx, func(ctx context.Context) error {
		entry.ID = 0
		return s.db.WithContext(ctx).Create(entry).Error
	})
}

// ListLogs 按规则、用户、状态与时间范围查询审计日志，按时间倒序
func (s *AutomationService) ListLogs(ctx context.Context, filter LogFilter) ([]models.AutomationLog, int64, error) {
	scoped := func(ctx context.Context) *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.AutomationLog{})
		if filter.RuleID != nil {
			q = q.Where("rule_id = ?", *filter.RuleID)
		}
		if filter.UserID != nil {
			q = q.Where("user_id = ?", *filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.Since != nil {
			q = q.Where("created_at >= ?", filter.Since.UTC())
		}
		if filter.Until != nil {
			q = q.Where("created_at <= ?", filter.Until.UTC())
		}
		return q
	}

	var total int64
	if err := s.retry.Do(ctx, func(ctx context.Context) error {
		return scoped(ctx).Count(&total).Error
	}); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []models.AutomationLog
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		logs = nil
		return scoped(ctx).Order("created_at DESC, id DESC").Limit(limit).Offset(filter.Offset).Find(&logs).Error
	})
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
