package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"freelancehub/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// EmailMessage 发送一封邮件所需字段，From 为空时使用默认发件人
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
	From    string
}

// SendResult 邮件服务商返回的投递结果
type SendResult struct {
	MessageID string
}

// Mailer 外部邮件发送通道
type Mailer interface {
	SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error)
}

// NewMailer 按配置构造邮件通道，并在启用时包上熔断器
func NewMailer(ctx context.Context, cfg config.MailConfig, logger *logrus.Logger) (Mailer, error) {
	if logger == nil {
		logger = logrus.New()
	}
	var m Mailer
	switch cfg.Provider {
	case "ses":
		ses, err := NewSESMailer(ctx, cfg)
		if err != nil {
			return nil, err
		}
		m = ses
	default:
		m = NewLogMailer(cfg.From, logger)
	}
	if cfg.Breaker.Enabled {
		m = NewBreakingMailer(m, NewCircuitBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.ResetTimeout), logger)
	}
	return m, nil
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESMailer 通过 AWS SES v2 发送邮件
type SESMailer struct {
	client sesAPI
	from   string
}

// NewSESMailer 创建 SES 客户端；未配置静态密钥时走默认凭证链
func NewSESMailer(ctx context.Context, cfg config.MailConfig) (*SESMailer, error) {
	region := cfg.SES.Region
	if region == "" {
		region = "us-east-1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		}),
	}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		if cfg.SES.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.SES.Endpoint)
		}
	})
	return &SESMailer{client: client, from: cfg.From}, nil
}

// SendEmail 发送单封 HTML 邮件
func (m *SESMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	from := msg.From
	if from == "" {
		from = m.from
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := m.client.SendEmail(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("ses send to %s: %w", msg.To, err)
	}
	result := &SendResult{}
	if out.MessageId != nil {
		result.MessageID = *out.MessageId
	}
	return result, nil
}

// LogMailer 只记录日志不实际发送，用于本地开发
type LogMailer struct {
	from   string
	logger *logrus.Logger
}

func NewLogMailer(from string, logger *logrus.Logger) *LogMailer {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogMailer{from: from, logger: logger}
}

func (m *LogMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	if !strings.Contains(msg.To, "@") {
		return nil, fmt.Errorf("invalid recipient address %q", msg.To)
	}
	from := msg.From
	if from == "" {
		from = m.from
	}
	id := uuid.NewString()
	m.logger.WithFields(logrus.Fields{
		"to":         msg.To,
		"from":       from,
		"subject":    msg.Subject,
		"message_id": id,
	}).Info("mail: delivered to log transport")
	return &SendResult{MessageID: id}, nil
}

// BreakingMailer 连续失败达到阈值后快速失败，直到重置超时
type BreakingMailer struct {
	next    Mailer
	breaker *CircuitBreaker
	logger  *logrus.Logger
}

func NewBreakingMailer(next Mailer, breaker *CircuitBreaker, logger *logrus.Logger) *BreakingMailer {
	if logger == nil {
		logger = logrus.New()
	}
	return &BreakingMailer{next: next, breaker: breaker, logger: logger}
}

func (m *BreakingMailer) SendEmail(ctx context.Context, msg EmailMessage) (*SendResult, error) {
	if !m.breaker.Allow() {
		return nil, ErrMailCircuitOpen
	}
	res, err := m.next.SendEmail(ctx, msg)
	if err != nil {
		// 调用方取消不计入失败
		if !errors.Is(err, context.Canceled) {
			m.breaker.OnFailure()
			if m.breaker.State() == BreakerOpen {
				m.logger.Warnf("mail: circuit opened after %d consecutive failures", m.breaker.FailureCount())
			}
		}
		return nil, err
	}
	m.breaker.OnSuccess()
	return res, nil
}
