package router

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/internal/http/dto"
	"brokerdesk.sg/relay/internal/http/handler"
	"brokerdesk.sg/relay/internal/http/handler/webhook"
	"brokerdesk.sg/relay/internal/http/middleware"
	"brokerdesk.sg/relay/internal/service"
)

type RouterConfig struct {
	SupportPhone    string
	WebhookSecret   string
	TraceHeaderName string
	MetricsPath     string // empty disables /metrics

	// Per client IP, applied to the public lead endpoints only.
	LeadRateLimit float64
	LeadBurst     int

	HealthChecks map[string]handler.HealthCheck
}

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) error {
	if err := dto.RegisterValidators(); err != nil {
		return fmt.Errorf("registering validators: %w", err)
	}

	healthHandler := handler.NewHealthHandler(cfg.HealthChecks)
	router.GET("/health", healthHandler.Live)
	router.GET("/ready", healthHandler.Ready)

	if cfg.MetricsPath != "" {
		router.GET(cfg.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	chatwootHandler := webhook.NewChatwootWebhookHandler(
		services.MessageIngest(), services.Conversations(), cfg.WebhookSecret, cfg.TraceHeaderName)
	WebhookRouter(router.Group("/webhooks"), chatwootHandler)

	v1 := router.Group("/api/v1")
	{
		leadHandler := handler.NewLeadHandler(services.LeadIntake(), cfg.SupportPhone)
		leads := v1.Group("/leads")
		if cfg.LeadRateLimit > 0 {
			limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.LeadRateLimit), max(cfg.LeadBurst, 1))
			leads.Use(limiter.RateLimit())
		}
		LeadRouter(leads, leadHandler)

		brokerHandler := handler.NewBrokerHandler(services.Availability())
		BrokerRouter(v1.Group("/brokers"), brokerHandler)
	}
	return nil
}
