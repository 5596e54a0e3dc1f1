package oracle

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/piratf/kampus-crawler/pkg/config"
	"github.com/piratf/kampus-crawler/pkg/metrics"
	"github.com/piratf/kampus-crawler/pkg/retry"
	"github.com/piratf/kampus-crawler/pkg/utils"
)

var errEmptyResponse = errors.New("empty response from oracle")

// OpenAIOracle talks to any OpenAI-compatible chat completions endpoint.
// Models are tried in order; each one gets the full retry policy.
type OpenAIOracle struct {
	client      *openai.Client
	models      []string
	policy      retry.Policy
	limiter     *rate.Limiter // nil = unlimited
	timeout     time.Duration
	maxTokens   int
	temperature float32
	log         *logrus.Entry
}

// NewOpenAIOracle creates the oracle client from validated config.
func NewOpenAIOracle(cfg config.OracleConfig, log *logrus.Entry) (*OpenAIOracle, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: oracle base URL is required", utils.ErrConfigValidation)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("%w: oracle needs at least one model", utils.ErrConfigValidation)
	}

	clientConfig := openai.DefaultConfig(cfg.ResolveAPIKey())
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}

	o := &OpenAIOracle{
		client:      openai.NewClientWithConfig(clientConfig),
		models:      append([]string(nil), cfg.Models...),
		policy:      retry.FromOracleConfig(cfg),
		timeout:     cfg.Timeout,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		log:         log.WithField("component", "oracle"),
	}
	if cfg.RequestsPerMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return o, nil
}

// GenerateText sends a text-only prompt.
func (o *OpenAIOracle) GenerateText(ctx context.Context, prompt string) (string, error) {
	msg := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	}
	return o.generate(ctx, "text", msg)
}

// GenerateWithBytes sends the prompt with data attached as a base64 data URL part.
func (o *OpenAIOracle) GenerateWithBytes(ctx context.Context, prompt string, data []byte, mime string) (string, error) {
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	msg := openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		},
	}
	return o.generate(ctx, "bytes", msg)
}

func (o *OpenAIOracle) generate(ctx context.Context, op string, msg openai.ChatCompletionMessage) (string, error) {
	var lastErr error
	for i, model := range o.models {
		modelLog := o.log.WithFields(logrus.Fields{"model": model, "op": op})

		var out string
		err := o.policy.Do(ctx, modelLog, func(ctx context.Context, attempt int) error {
			text, err := o.call(ctx, model, msg)
			if err != nil {
				return err
			}
			out = text
			return nil
		})
		if err == nil {
			metrics.OracleCalls.WithLabelValues(op, model, "ok").Inc()
			return out, nil
		}

		metrics.OracleCalls.WithLabelValues(op, model, "error").Inc()
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(o.models)-1 {
			modelLog.Warnf("Model failed, falling back to %s: %v", o.models[i+1], err)
		}
	}
	return "", fmt.Errorf("%w: all %d models failed: %w", utils.ErrOracleFault, len(o.models), lastErr)
}

// call performs one request. Rejections that retrying cannot fix are permanent
// for this model.
func (o *OpenAIOracle) call(ctx context.Context, model string, msg openai.ChatCompletionMessage) (string, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	callCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    []openai.ChatCompletionMessage{msg},
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}
	resp, err := o.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		if status := httpStatus(err); status != 0 && status != http.StatusTooManyRequests && status < 500 {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errEmptyResponse
	}

	o.log.WithFields(logrus.Fields{
		"model":             model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("Oracle call complete")
	return text, nil
}

// httpStatus returns the HTTP status carried by a go-openai error, or 0.
func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
