package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/promptguard-dashboard/internal/domain"
)

// StatusError — шлюз ответил не-2xx.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Gateway responded with %d", e.Code)
}

// ErrBreakerOpen — лента временно не опрашивается, предохранитель открыт.
var ErrBreakerOpen = errors.New("gateway: circuit breaker is open")

type Config struct {
	BaseURL string
	Timeout time.Duration

	// Лимит пользовательских отправок в /analyze
	AnalyzeRPS   float64
	AnalyzeBurst int

	// Предохранитель ленты /recent-prompts
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration
	BreakerFailures    uint32

	// OnBreakerChange вызывается при смене состояния предохранителя (health, метрики)
	OnBreakerChange func(from, to gobreaker.State)
}

// Client — HTTP-клиент к внешнему шлюзу безопасности.
type Client struct {
	http    *resty.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AnalyzeRPS <= 0 {
		cfg.AnalyzeRPS = 5
	}
	if cfg.AnalyzeBurst <= 0 {
		cfg.AnalyzeBurst = 1
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}

	logger = logger.With(zap.String("mod", "gateway"))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway-feed",
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if cfg.OnBreakerChange != nil {
				cfg.OnBreakerChange(from, to)
			}
		},
	})

	// Ретраев нет: лента повторяется следующим тиком, /analyze не повторяется вовсе
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:    httpClient,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.AnalyzeRPS), cfg.AnalyzeBurst),
		logger:  logger,
	}
}

// RecentPrompts запрашивает промпты с id строго больше since.
// Записи разбираются по одной: битая запись не роняет всю пачку.
func (c *Client) RecentPrompts(ctx context.Context, since int64) ([]domain.PromptRecord, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		var out recentPromptsEnvelope
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParam("since", strconv.FormatInt(since, 10)).
			SetResult(&out).
			ForceContentType("application/json").
			Get("/recent-prompts")
		if err != nil {
			return nil, fmt.Errorf("recent-prompts: %w", err)
		}
		if resp.IsError() {
			return nil, &StatusError{Code: resp.StatusCode()}
		}
		return c.decodeRecords(out.Prompts), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrBreakerOpen
		}
		return nil, err
	}

	prompts, _ := res.([]domain.PromptRecord)
	return prompts, nil
}

// recentPromptsEnvelope — ответ /recent-prompts до разбора отдельных записей.
type recentPromptsEnvelope struct {
	Prompts []json.RawMessage `json:"prompts"`
}

// decodeRecords: если запись не разобралась, но id читается, она возвращается
// как Malformed, чтобы курсор ушел дальше нее. Без id запись пропускается.
func (c *Client) decodeRecords(raw []json.RawMessage) []domain.PromptRecord {
	out := make([]domain.PromptRecord, 0, len(raw))
	for _, r := range raw {
		var rec domain.PromptRecord
		err := json.Unmarshal(r, &rec)
		if err == nil {
			out = append(out, rec)
			continue
		}

		var head struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(r, &head) != nil || head.ID <= 0 {
			c.logger.Warn("feed record skipped: no readable id", zap.Error(err))
			continue
		}
		c.logger.Warn("feed record malformed", zap.Int64("prompt_id", head.ID), zap.Error(err))
		out = append(out, domain.PromptRecord{ID: head.ID, Malformed: true})
	}
	return out
}

// Analyze отправляет промпт на полный анализ. Один блокирующий запрос, без повторов.
func (c *Client) Analyze(ctx context.Context, prompt string) (*domain.AnalyzeResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("analyze rate limit: %w", err)
	}

	var out domain.AnalyzeResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(domain.AnalyzeRequest{Prompt: prompt}).
		SetResult(&out).
		ForceContentType("application/json").
		Post("/analyze")
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	if resp.IsError() {
		return nil, &StatusError{Code: resp.StatusCode()}
	}

	c.logger.Debug("analyze completed",
		zap.String("result", string(out.Result)),
		zap.Duration("took", resp.Time()))
	return &out, nil
}

// BreakerState — текущее состояние предохранителя ленты.
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}
