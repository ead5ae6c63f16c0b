package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kai-familiar/marmot-cli/internal/apperrors"
	"github.com/kai-familiar/marmot-cli/internal/model"
	"github.com/kai-familiar/marmot-cli/pkg/jwt"
)

const (
	DefaultWebhookTimeout  = 10 * time.Second
	DefaultWebhookTokenTTL = 5 * time.Minute

	HeaderMessageID = "X-Marmot-Message-Id"

	maxDrainBytes = 64 << 10
)

type WebhookConfig struct {
	URL       string
	Secret    string
	TokenTTL  time.Duration
	Timeout   time.Duration
	UserAgent string
}

type WebhookService struct {
	log    *zap.Logger
	cfg    WebhookConfig
	client *http.Client
}

func NewWebhookService(log *zap.Logger, cfg WebhookConfig) (*WebhookService, error) {
	if cfg.URL == "" {
		return nil, apperrors.Config(errors.New("webhook url is empty"))
	}

	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperrors.Config(fmt.Errorf("webhook url %q is not an absolute http(s) url", cfg.URL))
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultWebhookTokenTTL
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "marmot-hook"
	}

	return &WebhookService{
		log:    log,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *WebhookService) Name() string {
	return "webhook"
}

func (s *WebhookService) Handle(ctx context.Context, env *model.Envelope) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(env.Body))
	if err != nil {
		return apperrors.Config(fmt.Errorf("build request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set(HeaderMessageID, env.MessageID)

	if s.cfg.Secret != "" {
		token, err := jwt.NewToken([]byte(s.cfg.Secret), s.cfg.TokenTTL,
			jwt.WithClaim("message_id", env.MessageID),
			jwt.WithClaim("group_id", env.GroupID),
		)
		if err != nil {
			return apperrors.Config(fmt.Errorf("sign webhook token: %w", err))
		}

		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.Downstream(fmt.Errorf("post webhook: %w", err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperrors.Downstream(fmt.Errorf("webhook responded with %s", resp.Status))
	}

	s.log.Debug("Webhook delivered", zap.String("messageID", env.MessageID), zap.Int("status", resp.StatusCode))

	return nil
}
