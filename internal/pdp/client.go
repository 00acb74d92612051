// Package pdp talks to a Cerbos-compatible policy decision point over its
// HTTP/JSON check API.
package pdp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dhawalhost/contactguard/internal/authz"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	checkResourcesPath = "/api/check/resources"
	healthPath         = "/_cerbos/health"

	maxResponseBytes = 4 << 20
)

// Config holds the decision point connection settings. Token is sent as a
// static bearer token; a TokenURL selects the client credentials grant
// instead.
type Config struct {
	URL           string
	Token         string
	TokenURL      string
	ClientID      string
	ClientSecret  string
	Scopes        []string
	Timeout       time.Duration
	PolicyVersion string
}

// Observer receives one observation per decision point call.
type Observer interface {
	ObserveDecision(operation, outcome string, elapsed time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled, instrumented default client. Bearer
// credentials from Config are still layered on top of its transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver records call outcomes and latency.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// Client implements authz.Client. It holds no per-request state and may be
// shared by all requests.
type Client struct {
	baseURL       string
	policyVersion string
	httpClient    *http.Client
	observer      Observer
	logger        *zap.Logger
}

var _ authz.Client = (*Client)(nil)

// New creates a decision point client.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, errors.New("pdp url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 64

	c := &Client{
		baseURL:       base,
		policyVersion: cfg.PolicyVersion,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(transport),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if src := tokenSource(cfg, c.httpClient); src != nil {
		authed := *c.httpClient
		authed.Transport = &oauth2.Transport{Source: src, Base: c.httpClient.Transport}
		c.httpClient = &authed
	}
	return c, nil
}

// tokenSource returns nil when the decision point is unauthenticated. hc
// fetches client credentials tokens.
func tokenSource(cfg Config, hc *http.Client) oauth2.TokenSource {
	switch {
	case cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return cc.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, hc))
	case cfg.Token != "":
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	default:
		return nil
	}
}

// CheckResource evaluates actions against a single resource. A response that
// does not mention the resource yields an empty Decision, which denies every
// action.
func (c *Client) CheckResource(ctx context.Context, p authz.Principal, r authz.Resource, actions []string) (authz.Decision, error) {
	bd, err := c.check(ctx, "check_resource", p, []authz.BatchItem{{Resource: r, Actions: actions}})
	if err != nil {
		return nil, err
	}
	d, ok := authz.Lookup(bd, r.Kind, r.ID)
	if !ok {
		c.logger.Warn("Decision point omitted requested resource",
			zap.String("request_id", bd.RequestID),
			zap.String("kind", r.Kind),
			zap.String("resource_id", r.ID),
		)
		return authz.Decision{}, nil
	}
	return d, nil
}

// CheckResources evaluates every item in one request.
func (c *Client) CheckResources(ctx context.Context, p authz.Principal, items []authz.BatchItem) (authz.BatchDecision, error) {
	if len(items) == 0 {
		return authz.BatchDecision{Results: []authz.ResourceDecision{}}, nil
	}
	return c.check(ctx, "check_resources", p, items)
}

// HealthCheck probes the decision point's health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", authz.ErrDecisionUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", authz.ErrDecisionUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) check(ctx context.Context, operation string, p authz.Principal, items []authz.BatchItem) (bd authz.BatchDecision, err error) {
	start := time.Now()
	defer func() {
		if c.observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "unavailable"
		}
		c.observer.ObserveDecision(operation, outcome, time.Since(start))
	}()

	requestID := uuid.NewString()
	body, err := json.Marshal(c.encodeRequest(requestID, p, items))
	if err != nil {
		return authz.BatchDecision{}, fmt.Errorf("encode check request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkResourcesPath, bytes.NewReader(body))
	if err != nil {
		return authz.BatchDecision{}, fmt.Errorf("build check request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Decision point request failed",
			zap.String("request_id", requestID),
			zap.String("operation", operation),
			zap.Error(err),
		)
		return authz.BatchDecision{}, fmt.Errorf("%w: %w", authz.ErrDecisionUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("Decision point returned error status",
			zap.String("request_id", requestID),
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
		)
		return authz.BatchDecision{}, fmt.Errorf("%w: status %d: %s",
			authz.ErrDecisionUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded checkResourcesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return authz.BatchDecision{}, fmt.Errorf("%w: decode response: %w", authz.ErrDecisionUnavailable, err)
	}

	bd = decodeResponse(decoded)
	if bd.RequestID == "" {
		bd.RequestID = requestID
	}
	for _, rd := range bd.Results {
		if len(rd.ValidationErrors) > 0 {
			c.logger.Warn("Decision point reported attribute validation errors",
				zap.String("request_id", bd.RequestID),
				zap.String("kind", rd.Kind),
				zap.String("resource_id", rd.ID),
				zap.Strings("errors", rd.ValidationErrors),
			)
		}
	}
	c.logger.Debug("Decision point answered",
		zap.String("request_id", bd.RequestID),
		zap.String("operation", operation),
		zap.String("principal", p.ID),
		zap.Int("resources", len(items)),
		zap.Int("results", len(bd.Results)),
	)
	return bd, nil
}
