package revalidate

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/fraser-stanley/spooky-stock/internal/domain"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultRetryCount = 2
)

// Options задает параметры Client.
type Options struct {
	Logger  *log.Entry
	Timeout time.Duration
	Secret  string
}

// Option настраивает Client.
type Option func(*Options)

// WithLogger задает logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithTimeout задает таймаут одного HTTP-вызова.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithSecret задает shared secret, который фронт проверяет у revalidate-вызова.
func WithSecret(secret string) Option {
	return func(opts *Options) {
		opts.Secret = secret
	}
}

// Client просит внешний page-cache (фронт каталога) перечитать страницы.
// Ядро кэш не реализует: это единственная точка интеграции с ним.
type Client struct {
	http   *resty.Client
	secret string
	logger *log.Entry
}

// New создает Client для endpoint вида https://shop.example/api/revalidate.
func New(endpoint string, options ...Option) *Client {
	opts := Options{Timeout: defaultTimeout}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "revalidate-client")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(opts.Timeout).
		SetRetryCount(defaultRetryCount).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		secret: opts.Secret,
		logger: logger,
	}
}

type revalidateRequest struct {
	Paths []string `json:"paths"`
}

// Revalidate отправляет список путей одним запросом. Non-2xx ответ — ошибка:
// вызывающая сторона решает, логировать или повторять.
func (c *Client) Revalidate(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	request := c.http.R().SetBody(revalidateRequest{Paths: paths})
	if c.secret != "" {
		request.SetHeader("x-revalidate-secret", c.secret)
	}

	resp, err := request.Post("")
	if err != nil {
		return fmt.Errorf("revalidate request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("revalidate request returned status %d", resp.StatusCode())
	}

	c.logger.WithField("paths", paths).Debug("cache revalidation requested")
	return nil
}

var _ domain.CacheInvalidator = (*Client)(nil)
