package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

// AutomationEngine 对外暴露的自动化入口：事件发布与调度生命周期
type AutomationEngine struct {
	bus        *EventBus
	automation *AutomationService
	scheduler  *Scheduler
	logger     *logrus.Logger
}

// NewAutomationEngine 将规则分发器订阅到事件总线
func NewAutomationEngine(bus *EventBus, automation *AutomationService, scheduler *Scheduler, logger *logrus.Logger) *AutomationEngine {
	if logger == nil {
		logger = logrus.New()
	}
	bus.Subscribe(automation.HandleEvent)
	return &AutomationEngine{bus: bus, automation: automation, scheduler: scheduler, logger: logger}
}

// EmitEvent 同步发布事件；未知类型静默忽略
func (e *AutomationEngine) EmitEvent(ctx context.Context, t EventType, payload map[string]interface{}) {
	e.bus.Emit(ctx, t, payload)
}

// Start 启动调度器，可重复调用
func (e *AutomationEngine) Start(ctx context.Context) error {
	if e.scheduler == nil {
		return nil
	}
	return e.scheduler.Start(ctx)
}

// Stop 停止调度器
func (e *AutomationEngine) Stop() error {
	if e.scheduler == nil {
		return nil
	}
	return e.scheduler.Stop()
}

// Tick 立即执行一次扫描，供命令行使用
func (e *AutomationEngine) Tick(ctx context.Context) TickReport {
	if e.scheduler == nil {
		return TickReport{}
	}
	return e.scheduler.Tick(ctx)
}

func (e *AutomationEngine) Service() *AutomationService { return e.automation }

func (e *AutomationEngine) Bus() *EventBus { return e.bus }
