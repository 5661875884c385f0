package greenmile

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

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"fleetsync/internal/cache"
)

const (
	LoginPath  = "/login"
	RoutesPath = "/greenmile-connect/rest/api/v1/fulfillment/routes"

	moduleHeader = "Greenmile-Module"
	moduleLive   = "LIVE"

	// fallbackTokenTTL applies when the access token carries no readable exp.
	fallbackTokenTTL = 30 * time.Minute
)

var ErrNoCredentials = errors.New("greenmile: username/password not configured")

type Client struct {
	host       string
	username   string
	password   string
	httpClient *http.Client
	tokens     cache.Store
	now        func() time.Time

	// Logger receives token cache failures; nil discards them.
	Logger *zap.Logger
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("greenmile API error (%d): %s", e.Status, e.Body)
}

// NewClient builds a client. tokens may be nil, in which case every call
// logs in again.
func NewClient(httpClient *http.Client, host, username, password string, tokens cache.Store) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		host:       strings.TrimRight(strings.TrimSpace(host), "/"),
		username:   strings.TrimSpace(username),
		password:   password,
		httpClient: httpClient,
		tokens:     tokens,
		now:        time.Now,
	}
}

type loginResponse struct {
	AccessToken    string `json:"access_token"`
	AnalyticsToken *struct {
		AccessToken string `json:"access_token"`
	} `json:"analyticsToken"`
}

type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges the configured credentials for an access token. The
// analytics token is preferred when the server returns one.
func (c *Client) Login(ctx context.Context) (string, time.Time, error) {
	if c.username == "" || c.password == "" {
		return "", time.Time{}, ErrNoCredentials
	}
	form := url.Values{}
	form.Set("j_username", c.username)
	form.Set("j_password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+LoginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(moduleHeader, moduleLive)

	body, err := c.do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	token := strings.TrimSpace(lr.AccessToken)
	if lr.AnalyticsToken != nil && strings.TrimSpace(lr.AnalyticsToken.AccessToken) != "" {
		token = strings.TrimSpace(lr.AnalyticsToken.AccessToken)
	}
	if token == "" {
		return "", time.Time{}, errors.New("greenmile: login returned no access token")
	}
	exp, ok := TokenExpiry(token)
	if !ok {
		exp = c.now().Add(fallbackTokenTTL)
	}
	return token, exp, nil
}

// Token returns a cached access token, logging in when none is cached or the
// cached one expires within a minute.
func (c *Client) Token(ctx context.Context) (string, error) {
	key := c.tokenKey()
	var cached cachedToken
	ok, err := cache.GetJSON(ctx, c.tokens, key, &cached)
	if err != nil {
		c.logger().Warn("greenmile token cache read failed", zap.String("key", key), zap.Error(err))
	}
	if ok {
		if cached.Token != "" && c.now().Add(time.Minute).Before(cached.ExpiresAt) {
			return cached.Token, nil
		}
	}
	token, exp, err := c.Login(ctx)
	if err != nil {
		return "", err
	}
	if ttl := exp.Sub(c.now()) - time.Minute; ttl > 0 {
		if err := cache.SetJSON(ctx, c.tokens, key, cachedToken{Token: token, ExpiresAt: exp}, ttl); err != nil {
			c.logger().Warn("greenmile token cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return token, nil
}

func (c *Client) forgetToken(ctx context.Context) {
	if c.tokens != nil {
		if err := c.tokens.Delete(ctx, c.tokenKey()); err != nil {
			c.logger().Warn("greenmile token cache delete failed", zap.Error(err))
		}
	}
}

func (c *Client) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

func (c *Client) tokenKey() string {
	return "greenmile:token:" + c.username
}

// TokenExpiry reads the exp claim without verifying the signature; the token
// is only inspected to decide when to log in again.
func TokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

type RouteQuery struct {
	Filters    []string
	MaxResults int
}

type routeCriteria struct {
	Filters     []string `json:"filters"`
	ViewType    string   `json:"viewType"`
	FirstResult int      `json:"firstResult"`
	MaxResults  int      `json:"maxResults"`
}

type criterion struct {
	Attr      string `json:"attr"`
	Eq        string `json:"eq"`
	MatchMode string `json:"matchMode"`
}

type sortSpec struct {
	Attr string `json:"attr"`
	Type string `json:"type"`
}

type routeRequest struct {
	CriteriaChain []map[string][]criterion `json:"criteriaChain"`
	Sort          []sortSpec               `json:"sort"`
}

// QueryRoute returns the stop-level items of one route, ordered by planned
// sequence. A rejected token is dropped from the cache so the next call logs
// in again.
func (c *Client) QueryRoute(ctx context.Context, routeKey string, q RouteQuery) ([]map[string]any, error) {
	routeKey = strings.TrimSpace(routeKey)
	if routeKey == "" {
		return nil, fmt.Errorf("route key is required")
	}
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	if q.MaxResults <= 0 {
		q.MaxResults = 1000
	}
	criteria, err := json.Marshal(routeCriteria{
		Filters:     q.Filters,
		ViewType:    "STOP",
		FirstResult: 0,
		MaxResults:  q.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(routeRequest{
		CriteriaChain: []map[string][]criterion{{
			"and": {{Attr: "route.key", Eq: routeKey, MatchMode: "EXACT"}},
		}},
		Sort: []sortSpec{{Attr: "stop.plannedSequenceNum", Type: "ASC"}},
	})
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("criteria", string(criteria))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+RoutesPath+"?"+query.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(moduleHeader, moduleLive)

	body, err := c.do(req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			c.forgetToken(ctx)
		}
		return nil, err
	}
	return decodeItems(body)
}

// decodeItems accepts the paged envelopes the API has used (content, rows,
// items) as well as a bare array.
func decodeItems(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode route items: %w", err)
		}
		return items, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to decode route response: %w", err)
	}
	for _, k := range []string{"content", "rows", "items"} {
		raw, ok := env[k]
		if !ok || len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to decode route %s: %w", k, err)
		}
		return items, nil
	}
	return nil, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
