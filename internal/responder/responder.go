// Package responder turns an inbound chat message into the broker's reply.
package responder

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"brokerdesk.sg/relay/common/breaker"
	"brokerdesk.sg/relay/common/llm"
	"brokerdesk.sg/relay/common/logger"
	"brokerdesk.sg/relay/common/metrics"
	"brokerdesk.sg/relay/internal/model"
)

var errEmptyCompletion = errors.New("empty completion")

type Config struct {
	Timeout        time.Duration // per attempt
	Retries        int           // extra attempts after the first
	RetryBaseDelay time.Duration // doubled after each failed attempt
	MaxTokens      int
	Temperature    *float64
	HistoryLimit   int
	FallbackText   string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 600
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 12
	}
	if c.FallbackText == "" {
		c.FallbackText = breaker.FallbackResponse("")
	}
	return c
}

type Request struct {
	Message    string
	Persona    model.BrokerPersona
	BrokerName string
	Lead       model.LeadSnapshot
	History    []model.ConversationTurn
}

type Reply struct {
	Text         string
	Intent       Intent
	Tier         Tier
	Model        string
	Attempts     int
	UsedFallback bool
	Err          error // last generation error when UsedFallback is set
}

type Responder struct {
	classifier Classifier
	router     *Router
	cfg        Config
}

func New(classifier Classifier, router *Router, cfg Config) *Responder {
	if classifier == nil {
		classifier = HeuristicClassifier{}
	}
	return &Responder{
		classifier: classifier,
		router:     router,
		cfg:        cfg.withDefaults(),
	}
}

// FallbackText is the reply used whenever generation gives up.
func (r *Responder) FallbackText() string {
	return r.cfg.FallbackText
}

// GenerateResponse always returns text to send. Provider errors and timeouts
// are retried with exponential backoff while they look transient; after that
// the fallback text is returned with UsedFallback set.
func (r *Responder) GenerateResponse(ctx context.Context, req Request) Reply {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "brokerdesk.responder"})

	cls := r.classifier.Classify(ctx, req.Message)
	reply := Reply{Intent: cls.Intent, Tier: cls.Intent.Tier()}

	client, tier, err := r.router.Client(reply.Tier)
	if err != nil {
		return r.fallback(ctx, reply, err)
	}
	reply.Tier = tier
	reply.Model = client.Model()

	completionReq := llm.CompletionRequest{
		System:      BuildSystemPrompt(req.Persona, req.BrokerName, req.Lead),
		Messages:    buildMessages(req.History, req.Message, r.cfg.HistoryLimit),
		MaxTokens:   r.cfg.MaxTokens,
		Temperature: r.cfg.Temperature,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.RetryBaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = r.cfg.RetryBaseDelay * 8

	text, err := backoff.Retry(ctx, func() (string, error) {
		reply.Attempts++
		text, err := r.complete(ctx, client, completionReq)
		if err == nil {
			return text, nil
		}

		metrics.GenerationsTotal.WithLabelValues(string(tier), "error").Inc()
		slog.WarnContext(ctx, "reply generation failed",
			"error", err,
			"tier", tier,
			"attempt", reply.Attempts)

		if !errors.Is(err, errEmptyCompletion) && !llm.IsRetryable(ctx, err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.cfg.Retries+1)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		return r.fallback(ctx, reply, err)
	}

	metrics.GenerationsTotal.WithLabelValues(string(tier), "success").Inc()
	reply.Text = text
	slog.DebugContext(ctx, "reply generated",
		"intent", cls.Intent,
		"intent_source", cls.Source,
		"tier", tier,
		"model", reply.Model,
		"attempts", reply.Attempts)
	return reply
}

func (r *Responder) complete(ctx context.Context, client llm.ChatClient, req llm.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	resp, err := client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

func (r *Responder) fallback(ctx context.Context, reply Reply, err error) Reply {
	metrics.GenerationsTotal.WithLabelValues(string(reply.Tier), "fallback").Inc()
	slog.ErrorContext(ctx, "using fallback reply", "error", err, "tier", reply.Tier)

	reply.Text = r.cfg.FallbackText
	reply.UsedFallback = true
	reply.Err = err
	return reply
}
