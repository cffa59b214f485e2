package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"freelancehub/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newServicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Proposal{},
		&models.AutomationRule{},
		&models.AutomationLog{},
		&models.ContractTemplate{},
		&models.SmartContract{},
		&models.Invoice{},
		&models.EmailCampaign{},
		&models.EmailLog{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func fastRetry() RetryPolicy {
	return NewRetryPolicy(3, time.Millisecond)
}

func floatPtr(v float64) *float64 { return &v }

type seededProposal struct {
	Client     models.User
	Freelancer models.User
	Job        models.Job
	Proposal   models.Proposal
}

func seedProposal(t *testing.T, db *gorm.DB, category string, jobBudget, rate *float64) seededProposal {
	t.Helper()
	var s seededProposal
	s.Client = models.User{Name: "Acme Corp", Email: "client-" + category + time.Now().Format("150405.000000000") + "@acme.test", Role: "CLIENT"}
	if err := db.Create(&s.Client).Error; err != nil {
		t.Fatalf("create client: %v", err)
	}
	s.Freelancer = models.User{Name: "Dana Developer", Email: "dana-" + category + time.Now().Format("150405.000000000") + "@freelance.test", Role: "FREELANCER"}
	if err := db.Create(&s.Freelancer).Error; err != nil {
		t.Fatalf("create freelancer: %v", err)
	}
	s.Job = models.Job{
		ClientID:    s.Client.ID,
		Title:       "Build a landing page",
		Description: "Responsive landing page with signup form",
		Category:    category,
		Budget:      jobBudget,
		Status:      models.JobStatusOpen,
	}
	if err := db.Create(&s.Job).Error; err != nil {
		t.Fatalf("create job: %v", err)
	}
	s.Proposal = models.Proposal{
		JobID:             s.Job.ID,
		FreelancerID:      s.Freelancer.ID,
		ProposedRate:      rate,
		EstimatedDuration: "2 weeks",
		Status:            models.ProposalStatusPending,
	}
	if err := db.Create(&s.Proposal).Error; err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	return s
}

// seedAcceptedProposal 同 seedProposal，但投标已被接受
func seedAcceptedProposal(t *testing.T, db *gorm.DB, category string, jobBudget, rate *float64) seededProposal {
	t.Helper()
	s := seedProposal(t, db, category, jobBudget, rate)
	if err := db.Model(&s.Proposal).Update("status", models.ProposalStatusAccepted).Error; err != nil {
		t.Fatalf("accept proposal: %v", err)
	}
	s.Proposal.Status = models.ProposalStatusAccepted
	return s
}

// recordingEmitter 记录发布的事件
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingEmitter) Emit(ctx context.Context, t EventType, payload map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Type: t, Payload: payload})
}

func (r *recordingEmitter) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fakeMailer 对包含 failOn 子串的地址返回错误
type fakeMailer struct {
	mu     sync.Mutex
	failOn string
	sent   []EmailMessage
}

func (m *fakeMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.Contains(msg.To, m.failOn) {
		return nil, errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, msg)
	return &SendResult{MessageID: "msg-" + msg.To}, nil
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// cancelOnSendMailer 第一次发送成功并取消外层 ctx，之后的发送返回 ctx 错误
type cancelOnSendMailer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  int
}

func (m *cancelOnSendMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls == 1 {
		m.cancel()
		return &SendResult{MessageID: "msg-" + msg.To}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: "msg-" + msg.To}, nil
}

// slowMailer 通知进入后延迟返回；延迟期间 ctx 被取消则返回错误
type slowMailer struct {
	entered chan struct{}
	once    sync.Once
	delay   time.Duration
}

func (m *slowMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	m.once.Do(func() { close(m.entered) })
	time.Sleep(m.delay)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &SendResult{MessageID: "msg-" + msg.To}, nil
}

// testStack 组装一套完整的服务
type testStack struct {
	db         *gorm.DB
	bus        *EventBus
	mailer     *fakeMailer
	invoices   *InvoiceService
	contracts  *ContractService
	campaigns  *CampaignService
	automation *AutomationService
	proposals  *ProposalService
	scheduler  *Scheduler
	engine     *AutomationEngine
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	db := newServicesTestDB(t)
	log := quietLogger()
	bus := NewEventBus(log)
	mailer := &fakeMailer{}
	renderer := NewTemplateRenderer()

	invoices := NewInvoiceService(db, log, fastRetry(), bus, CountSequencer{}, InvoiceConfig{})
	contracts := NewContractService(db, log, fastRetry(), bus, renderer, invoices, ContractConfig{})
	campaigns := NewCampaignService(db, log, fastRetry(), mailer, renderer, time.Second)
	automation := NewAutomationService(db, log, fastRetry(), AutomationDeps{
		Contracts: contracts,
		Invoices:  invoices,
		Mailer:    mailer,
		Renderer:  renderer,
	}, 0)
	proposals := NewProposalService(db, log, fastRetry(), bus, contracts)
	scheduler := NewScheduler(automation, campaigns, contracts, SchedulerConfig{Interval: time.Hour, ExpirySweepEnabled: true}, log)
	engine := NewAutomationEngine(bus, automation, scheduler, log)

	return &testStack{
		db:         db,
		bus:        bus,
		mailer:     mailer,
		invoices:   invoices,
		contracts:  contracts,
		campaigns:  campaigns,
		automation: automation,
		proposals:  proposals,
		scheduler:  scheduler,
		engine:     engine,
	}
}
