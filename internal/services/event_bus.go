package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"freelancehub/internal/metrics"

	"github.com/sirupsen/logrus"
)

// EventType 领域事件类型（固定集合）
type EventType string

const (
	EventJobCreated            EventType = "JOB_CREATED"
	EventJobUpdated            EventType = "JOB_UPDATED"
	EventJobCompleted          EventType = "JOB_COMPLETED"
	EventProposalSubmitted     EventType = "PROPOSAL_SUBMITTED"
	EventProposalAccepted      EventType = "PROPOSAL_ACCEPTED"
	EventProposalRejected      EventType = "PROPOSAL_REJECTED"
	EventContractAutoGenerated EventType = "CONTRACT_AUTO_GENERATED"
	EventContractSigned        EventType = "CONTRACT_SIGNED"
	EventContractExpired       EventType = "CONTRACT_EXPIRED"
	EventInvoiceAutoGenerated  EventType = "INVOICE_AUTO_GENERATED"
	EventInvoicePaid           EventType = "INVOICE_PAID"
	EventPaymentReceived       EventType = "PAYMENT_RECEIVED"
	EventDeadlineApproaching   EventType = "DEADLINE_APPROACHING"
	EventUserRegistered        EventType = "USER_REGISTERED"
	EventMessageReceived       EventType = "MESSAGE_RECEIVED"
)

// AllEventTypes 返回全部受支持的事件类型
func AllEventTypes() []EventType {
	return []EventType{
		EventJobCreated, EventJobUpdated, EventJobCompleted,
		EventProposalSubmitted, EventProposalAccepted, EventProposalRejected,
		EventContractAutoGenerated, EventContractSigned, EventContractExpired,
		EventInvoiceAutoGenerated, EventInvoicePaid, EventPaymentReceived,
		EventDeadlineApproaching, EventUserRegistered, EventMessageReceived,
	}
}

// IsKnownEvent 判断事件类型是否在固定集合内
func IsKnownEvent(t EventType) bool {
	for _, known := range AllEventTypes() {
		if known == t {
			return true
		}
	}
	return false
}

// Event 一次事件发布
type Event struct {
	Type       EventType
	Payload    map[string]interface{}
	OccurredAt time.Time
}

// EventHandler 事件监听器
type EventHandler func(ctx context.Context, evt Event)

// EventEmitter 事件发布接口
type EventEmitter interface {
	Emit(ctx context.Context, t EventType, payload map[string]interface{})
}

// EventBus 进程内同步广播，不持久化
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
	logger   *logrus.Logger
}

func NewEventBus(logger *logrus.Logger) *EventBus {
	if logger == nil {
		logger = logrus.New()
	}
	return &EventBus{handlers: make(map[EventType][]EventHandler), logger: logger}
}

// Subscribe 订阅指定事件类型；未指定类型时订阅全部
func (b *EventBus) Subscribe(h EventHandler, types ...EventType) {
	if len(types) == 0 {
		types = AllEventTypes()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		if !IsKnownEvent(t) {
			b.logger.Warnf("event bus: ignoring subscription to unknown event %s", t)
			continue
		}
		b.handlers[t] = append(b.handlers[t], h)
	}
}

// Emit 在调用方 goroutine 上依次通知监听器；未知事件类型静默忽略
func (b *EventBus) Emit(ctx context.Context, t EventType, payload map[string]interface{}) {
	if !IsKnownEvent(t) {
		b.logger.Debugf("event bus: dropping unknown event %s", t)
		return
	}
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[t]...)
	b.mu.RUnlock()

	metrics.IncEvent(string(t))
	if len(handlers) == 0 {
		return
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	evt := Event{Type: t, Payload: payload, OccurredAt: time.Now().UTC()}
	for _, h := range handlers {
		b.deliver(ctx, h, evt)
	}
}

func (b *EventBus) deliver(ctx context.Context, h EventHandler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"event": evt.Type,
				"panic": fmt.Sprint(r),
			}).Errorf("event bus: listener panicked\n%s", debug.Stack())
		}
	}()
	h(ctx, evt)
}
