package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"freelancehub/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const sweepJobName = "automation-sweep"

// TickReport 一次调度的汇总
type TickReport struct {
	RulesRun         int
	CampaignsRun     int
	ContractsExpired int
	Errors           []error
}

// Scheduler 定时扫描：到期规则、到期群发与过期合同
// 生命周期由进程启动代码持有，Start 可重复调用
type Scheduler struct {
	automation    *AutomationService
	campaigns     *CampaignService
	contracts     *ContractService
	interval      time.Duration
	expiryEnabled bool
	logger        *logrus.Logger
	now           func() time.Time

	mu      sync.Mutex
	started bool
	sched   gocron.Scheduler
	cancel  context.CancelFunc
}

// SchedulerConfig 调度参数
type SchedulerConfig struct {
	Interval           time.Duration
	ExpirySweepEnabled bool
}

func NewScheduler(automation *AutomationService, campaigns *CampaignService, contracts *ContractService, cfg SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &Scheduler{
		automation:    automation,
		campaigns:     campaigns,
		contracts:     contracts,
		interval:      cfg.Interval,
		expiryEnabled: cfg.ExpirySweepEnabled,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start 注册扫描任务：立即执行一次，之后按间隔重复；慢任务不会重叠执行
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.Tick(runCtx) }),
		gocron.WithName(sweepJobName),
		gocron.WithTags("automation"),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("failed to schedule sweep job: %w", err)
	}

	sched.Start()
	s.sched = sched
	s.cancel = cancel
	s.started = true
	s.logger.Infof("scheduler: started, sweeping every %s", s.interval)
	return nil
}

// Stop 等待进行中的扫描结束后关闭调度器；未启动时无操作
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	err := s.sched.Shutdown()
	s.cancel()
	s.started = false
	s.sched = nil
	if err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	s.logger.Info("scheduler: stopped")
	return nil
}

// Running 调度器是否已启动
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Tick 执行一次完整扫描；三个扫描相互独立，任一失败不影响其他
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	now := s.now()
	var report TickReport

	if s.automation != nil {
		s.guard("rules", &report, func() error {
			n, err := s.automation.SweepScheduledRules(ctx, now)
			report.RulesRun = n
			return err
		})
	}
	if s.campaigns != nil {
		s.guard("campaigns", &report, func() error {
			results, err := s.campaigns.SweepDueCampaigns(ctx, now)
			report.CampaignsRun = len(results)
			return err
		})
	}
	if s.contracts != nil && s.expiryEnabled {
		s.guard("contract expiry", &report, func() error {
			n, err := s.contracts.ExpirePendingContracts(ctx, now)
			report.ContractsExpired = n
			return err
		})
	}

	metrics.IncSweepTick(len(report.Errors) > 0)
	if len(report.Errors) > 0 {
		s.logger.Warnf("scheduler: tick finished with errors: %v", errors.Join(report.Errors...))
	} else if report.RulesRun+report.CampaignsRun+report.ContractsExpired > 0 {
		s.logger.WithFields(logrus.Fields{
			"rules":     report.RulesRun,
			"campaigns": report.CampaignsRun,
			"expired":   report.ContractsExpired,
		}).Info("scheduler: tick completed")
	}
	return report
}

func (s *Scheduler) guard(name string, report *TickReport, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("scheduler: %s sweep panicked: %v\n%s", name, r, debug.Stack())
			report.Errors = append(report.Errors, fmt.Errorf("%s sweep panicked: %v", name, r))
		}
	}()
	if err := fn(); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("%s sweep: %w", name, err))
	}
}
