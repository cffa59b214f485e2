package handlers

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"freelancehub/internal/config"
	"freelancehub/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version 由构建时注入
var Version = "dev"

// SchedulerStatus 调度器运行状态
type SchedulerStatus interface {
	Running() bool
}

// HealthHandler 健康检查、就绪检查与指标输出
type HealthHandler struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	scheduler SchedulerStatus
	logger    *logrus.Logger
	startedAt time.Time
}

// NewHealthHandler 创建健康检查处理器；redis 与 scheduler 可为空
func NewHealthHandler(cfg *config.Config, db *gorm.DB, rdb redis.UniversalClient, scheduler SchedulerStatus) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		db:        db,
		redis:     rdb,
		scheduler: scheduler,
		logger:    logrus.StandardLogger(),
		startedAt: time.Now(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 依赖服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    string `json:"uptime"`
	GoVersion string `json:"go_version"`
}

// Health 健康检查端点；数据库不可用为 unhealthy，其余依赖不可用为 degraded
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(h.startedAt).Truncate(time.Second).String(),
			GoVersion: runtime.Version(),
		},
	}

	dbInfo := h.checkDatabase(ctx)
	response.Services["database"] = dbInfo
	if dbInfo.Status != "healthy" {
		response.Status = "unhealthy"
	}

	if h.config != nil && h.config.Redis.Enabled {
		info := h.checkRedis(ctx)
		response.Services["redis"] = info
		if info.Status != "healthy" && response.Status == "healthy" {
			response.Status = "degraded"
		}
	}

	if h.scheduler != nil {
		info := ServiceInfo{Status: "running"}
		if !h.scheduler.Running() {
			info.Status = "stopped"
			if h.config != nil && h.config.Automation.Enabled && response.Status == "healthy" {
				response.Status = "degraded"
			}
		}
		response.Services["scheduler"] = info
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只检查数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	info := h.checkDatabase(ctx)
	ready := info.Status == "healthy"

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, gin.H{
		"ready":     ready,
		"timestamp": time.Now().UTC(),
		"services":  gin.H{"database": info.Status},
	})
}

// Metrics Prometheus 文本格式
func (h *HealthHandler) Metrics(c *gin.Context) {
	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP freelancehub_info Information about the instance\n")
	fmt.Fprintf(b, "# TYPE freelancehub_info gauge\n")
	fmt.Fprintf(b, "freelancehub_info{version=%q} 1\n\n", Version)
	fmt.Fprintf(b, "# HELP freelancehub_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(b, "# TYPE freelancehub_uptime_seconds counter\n")
	fmt.Fprintf(b, "freelancehub_uptime_seconds %.0f\n\n", time.Since(h.startedAt).Seconds())
	metrics.WritePrometheus(b)
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func (h *HealthHandler) checkDatabase(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.db == nil {
		return ServiceInfo{Status: "unhealthy", Error: "database connection not initialized"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	info := ServiceInfo{Latency: time.Since(start).String()}
	if h.config != nil {
		info.Details = map[string]interface{}{"driver": h.config.Database.Driver}
	}
	if err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		h.logger.Warnf("health: database ping failed: %v", err)
		return info
	}
	info.Status = "healthy"
	return info
}

func (h *HealthHandler) checkRedis(ctx context.Context) ServiceInfo {
	start := time.Now()
	if h.redis == nil {
		return ServiceInfo{Status: "unhealthy", Error: "redis connection not initialized"}
	}
	info := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]interface{}{"addr": h.config.Redis.Addr()},
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		return info
	}
	info.Latency = time.Since(start).String()
	info.Status = "healthy"
	return info
}

// RegisterHealthRoutes 注册 /health、/ready 与指标路径
func RegisterHealthRoutes(r gin.IRoutes, handler *HealthHandler, metricsPath string) {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
	r.GET(metricsPath, handler.Metrics)
}
