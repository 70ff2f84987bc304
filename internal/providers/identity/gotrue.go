// Package identity delivers administrator invitations to the identity
// system that owns member accounts.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/clubhouse/internal/invitation/domain"
)

var ErrNotConfigured = errors.New("identity: provider not configured")

type GoTrueConfig struct {
	URL            string
	ServiceRoleKey string
	RedirectURL    string
	MaxRetries     int
	RetryInterval  time.Duration
	HTTPClient     *http.Client
}

// GoTrueSender calls the admin invite endpoint of a GoTrue compatible auth
// server.
type GoTrueSender struct {
	cfg    GoTrueConfig
	client *http.Client
	log    *zap.Logger
}

func NewGoTrueSender(cfg GoTrueConfig, log *zap.Logger) (*GoTrueSender, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GoTrueSender{cfg: cfg, client: client, log: log.Named("identity.gotrue")}, nil
}

type inviteBody struct {
	Email string         `json:"email"`
	Data  map[string]any `json:"data"`
}

type errorBody struct {
	Code    any    `json:"code"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Error   string `json:"error_description"`
}

func (s *GoTrueSender) SendInvite(ctx context.Context, delivery domain.Delivery) error {
	payload, err := json.Marshal(inviteBody{Email: delivery.Email, Data: inviteData(delivery)})
	if err != nil {
		return backoff.Permanent(err)
	}

	endpoint := s.cfg.URL + "/auth/v1/invite"
	if s.cfg.RedirectURL != "" {
		endpoint += "?redirect_to=" + url.QueryEscape(s.cfg.RedirectURL)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.RetryInterval
	exp.MaxInterval = 8 * s.cfg.RetryInterval

	op := func() (struct{}, error) {
		return struct{}{}, s.post(ctx, endpoint, payload)
	}
	notify := func(err error, next time.Duration) {
		s.log.Warn("invite attempt failed, retrying",
			zap.String("org_id", delivery.OrgID.String()),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)),
		backoff.WithNotify(notify),
	)
	return err
}

func (s *GoTrueSender) post(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.cfg.ServiceRoleKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.ServiceRoleKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("invite request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := errorMessage(raw)
	switch {
	case isAlreadyRegistered(resp.StatusCode, msg):
		return backoff.Permanent(domain.ErrAlreadyInvited)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("invite rejected: status %d: %s", resp.StatusCode, msg)
	default:
		return backoff.Permanent(fmt.Errorf("invite rejected: status %d: %s", resp.StatusCode, msg))
	}
}

func inviteData(delivery domain.Delivery) map[string]any {
	data := map[string]any{
		"organization_id": delivery.OrgID.String(),
		"role":            delivery.Role,
	}
	if delivery.FullName != "" {
		data["full_name"] = delivery.FullName
	}
	for name, allowed := range delivery.Permissions {
		data[name] = allowed
	}
	return data
}

func errorMessage(raw []byte) string {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, candidate := range []string{body.Msg, body.Message, body.Error} {
			if candidate != "" {
				return candidate
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func isAlreadyRegistered(status int, msg string) bool {
	if status != http.StatusUnprocessableEntity && status != http.StatusConflict && status != http.StatusBadRequest {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "already been registered") ||
		strings.Contains(lower, "already registered") ||
		strings.Contains(lower, "already exists")
}
