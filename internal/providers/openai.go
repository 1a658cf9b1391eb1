package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/circuitbreaker"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/config"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/logger"
	"github.com/rafaelminatto1/Fisioflow-2.0-sub002/pkg/retry"
)

// TypeOpenAI is the chat-completions dialect every supported provider speaks.
const TypeOpenAI = "openai"

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Model   string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the opaque transport to one premium provider.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Ping(ctx context.Context) error
}

// breakerAware clients report whether their circuit breaker lets calls through.
type breakerAware interface {
	BreakerState() circuitbreaker.State
}

// OpenAIClient talks to an OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewOpenAIClient(cfg config.ProviderConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	cb := circuitbreaker.NewCircuitBreaker(cfg.Name, circuitbreaker.Config{
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.Named("retry").With(zap.String("provider", cfg.Name))

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if cfg.APIKey == "" {
		logger.Warn("Provider has no API key, calls will fail", zap.String("provider", cfg.Name))
	}
	logger.Info("Provider client initialized",
		zap.String("provider", cfg.Name),
		zap.String("model", cfg.Model),
		zap.String("base_url", clientConfig.BaseURL),
	)

	return &OpenAIClient{
		name:        cfg.Name,
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return errors.New("completion returned no choices")
			}

			logger.Debug("Provider completion generated",
				zap.String("provider", c.name),
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Model:   resp.Model,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Ping lists the endpoint's models, which costs no completion quota.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func(ctx context.Context) error {
		if _, err := c.client.ListModels(ctx); err != nil {
			return fmt.Errorf("failed to list models: %w", err)
		}
		return nil
	})
}

func (c *OpenAIClient) BreakerState() circuitbreaker.State {
	return c.cb.State()
}

// NewClients builds a client for every enabled provider. A provider whose
// type has no transport is left out, which the manager rejects at startup.
func NewClients(providers []config.ProviderConfig) map[string]Client {
	clients := make(map[string]Client, len(providers))
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		switch p.Type {
		case TypeOpenAI, "":
			clients[p.Name] = NewOpenAIClient(p)
		default:
			logger.Warn("No transport for provider type",
				zap.String("provider", p.Name),
				zap.String("type", p.Type),
			)
		}
	}
	return clients
}
