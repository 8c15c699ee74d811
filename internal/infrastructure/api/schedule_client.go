package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/pkg/circuitbreaker"
	"livecast/pkg/retry"

	"go.uber.org/zap"
)

const maxResponseSize = 1 << 20

type ScheduleClientConfig struct {
	BaseURL        string
	Timeout        time.Duration
	Retry          retry.Config
	CircuitBreaker circuitbreaker.Config
}

// ScheduledSession is the session object returned by the REST API.
type ScheduledSession struct {
	FacebookID string `json:"facebookId"`
	CampaignID string `json:"campaignId"`
	Instance   struct {
		IPv4 *string `json:"ipv4"`
	} `json:"instance"`
}

type scheduleResponse struct {
	Session   *ScheduledSession `json:"session"`
	Scheduled *bool             `json:"scheduled"`
}

// ScheduleClient asks the REST API whether a campaign has a scheduled session.
type ScheduleClient struct {
	cfg     ScheduleClientConfig
	http    *http.Client
	tokens  ports.TokenProvider
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewScheduleClient(cfg ScheduleClientConfig, tokens ports.TokenProvider, logger *zap.SugaredLogger) *ScheduleClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CircuitBreaker.Name == "" {
		cfg.CircuitBreaker.Name = "schedule-api"
	}
	// Rejected requests say nothing about the API's health.
	cfg.CircuitBreaker.IsCallerError = retry.IsPermanent
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = func(err error, next time.Duration) {
			logger.Debugw("retrying schedule check", "error", err, "backoff", next)
		}
	}
	breaker := circuitbreaker.New(cfg.CircuitBreaker)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("schedule api circuit breaker changed state", "from", from, "to", to)
	})
	return &ScheduleClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		breaker: breaker,
		logger:  logger,
	}
}

// IsScheduled reports true when the API returns a session or scheduled=true.
func (c *ScheduleClient) IsScheduled(ctx context.Context, campaignID domain.CampaignID) (bool, error) {
	if campaignID == "" {
		return false, domain.ErrNoCampaign
	}

	scheduled, err := retry.DoWithResult(ctx, c.cfg.Retry, func() (bool, error) {
		result, err := circuitbreaker.ExecuteWithResult(ctx, c.breaker, func(ctx context.Context) (bool, error) {
			return c.fetch(ctx, campaignID)
		})
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return false, retry.Permanent(err)
		}
		return result, err
	})
	if err != nil {
		return false, fmt.Errorf("schedule check for %s: %w", campaignID, err)
	}

	c.logger.Debugw("schedule checked", "campaign_id", campaignID, "scheduled", scheduled)
	return scheduled, nil
}

func (c *ScheduleClient) fetch(ctx context.Context, campaignID domain.CampaignID) (bool, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/sessions/" + url.PathEscape(string(campaignID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, retry.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		serr := &statusError{code: resp.StatusCode}
		if serr.permanent() {
			return false, retry.Permanent(serr)
		}
		return false, serr
	}

	var body scheduleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&body); err != nil {
		return false, retry.Permanent(fmt.Errorf("decode schedule response: %w", err))
	}
	if body.Scheduled != nil {
		return *body.Scheduled, nil
	}
	return body.Session != nil, nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// permanent is true for client errors other than throttling.
func (e *statusError) permanent() bool {
	return e.code >= 400 && e.code < 500 && e.code != http.StatusTooManyRequests
}
