// Package iocare talks to the Coway IoCare cloud: sign-in, token refresh and the
// request/response calls used to poll and control purifiers.
package iocare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cloudkucooland/cowaybridge/action"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// UserAgent is what the IoCare mobile web flow expects to see
	UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 10_3_1 like Mac OS X) AppleWebKit/603.1.30 (KHTML, like Gecko) Version/10.0 Mobile/14E304 Safari/602.1"
	// ClientID identifies the IoCare app to the Coway identity realm
	ClientID = "cwid-prd-iocare-20240327"

	SignInURL   = "https://id.coway.com/auth/realms/cw-account/protocol/openid-connect/auth"
	RedirectURL = "https://iocare-redirect.iot.coway.com/redirect_bridge.html"
	APIURL      = "https://iocareapi.iot.coway.com/api/v1"

	defaultPageSize = 100
	maxPages        = 50
	maxBody         = 4 << 20
)

var (
	// ErrSignIn is returned when any step of the login flow does not yield what the next step needs
	ErrSignIn = errors.New("iocare sign-in failed")
	// ErrNoToken is returned for calls made before a successful sign-in
	ErrNoToken = errors.New("iocare: no access token")
	// ErrNoData is set on responses which succeeded at the HTTP level but carry no data
	ErrNoData = errors.New("iocare: response carries no data")
)

// Config holds the URLs and tuning knobs of the client; the URLs are overridable for tests
type Config struct {
	SignInURL   string
	RedirectURL string
	APIURL      string
	ClientID    string
	UserAgent   string
	PageSize    int
	RateLimit   float64 // requests per second, 0 for unlimited
	Timeout     time.Duration
}

// DefaultConfig points at the production IoCare endpoints
func DefaultConfig() Config {
	return Config{
		SignInURL:   SignInURL,
		RedirectURL: RedirectURL,
		APIURL:      APIURL,
		ClientID:    ClientID,
		UserAgent:   UserAgent,
		PageSize:    defaultPageSize,
		RateLimit:   5,
		Timeout:     15 * time.Second,
	}
}

// Credentials are the Coway account login
type Credentials struct {
	Username string
	Password string
}

// Client is a signed-in IoCare session. It is safe for concurrent use.
type Client struct {
	cfg     Config
	creds   Credentials
	http    *http.Client
	limiter *rate.Limiter

	mu     sync.RWMutex
	tokens oauth2.TokenSource
}

// New returns a client which still needs SignIn before device calls succeed
func New(cfg Config, creds Credentials) *Client {
	d := DefaultConfig()
	if cfg.SignInURL == "" {
		cfg.SignInURL = d.SignInURL
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = d.RedirectURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = d.APIURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = d.ClientID
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = d.PageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Client{
		cfg:     cfg,
		creds:   creds,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// SignIn runs the login flow and installs the resulting token pair.
// Later refreshes happen on demand, one at a time.
func (c *Client) SignIn(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.signIn(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tokens = oauth2.ReuseTokenSource(tok, &refresher{c: c, current: tok})
	c.mu.Unlock()
	return tok, nil
}

// Token returns a valid access token, refreshing it first when it expired
func (c *Client) Token() (*oauth2.Token, error) {
	c.mu.RLock()
	ts := c.tokens
	c.mu.RUnlock()
	if ts == nil {
		return nil, ErrNoToken
	}
	return ts.Token()
}

// Get issues an authenticated GET with params in the query string
func (c *Client) Get(ctx context.Context, ep Endpoint, params map[string]string) *Response {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	target := c.cfg.APIURL + ep.Path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return &Response{Endpoint: ep, Err: err}
	}
	return c.do(req, ep, true)
}

// Post issues an authenticated POST with body encoded as JSON
func (c *Client) Post(ctx context.Context, ep Endpoint, body interface{}) *Response {
	return c.post(ctx, ep, body, true)
}

func (c *Client) post(ctx context.Context, ep Endpoint, body interface{}, auth bool) *Response {
	raw, err := json.Marshal(body)
	if err != nil {
		return &Response{Endpoint: ep, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+ep.Path, bytes.NewReader(raw))
	if err != nil {
		return &Response{Endpoint: ep, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, ep, auth)
}

// do never returns an error: failures are carried on the Response
func (c *Client) do(req *http.Request, ep Endpoint, auth bool) *Response {
	res := &Response{Endpoint: ep}

	if err := c.limiter.Wait(req.Context()); err != nil {
		res.Err = err
		return res
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("trcode", ep.Code)
	if auth {
		tok, err := c.Token()
		if err != nil {
			res.Err = fmt.Errorf("%w: %v", ErrNoToken, err)
			return res
		}
		tok.SetAuthHeader(req)
	}

	log.Debug().Str("method", req.Method).Str("endpoint", ep.String()).Msg("iocare request")
	resp, err := c.http.Do(req)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		res.Err = err
		return res
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = &StatusError{Status: resp.StatusCode, Body: snippet(body)}
		return res
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		res.Err = fmt.Errorf("iocare: malformed body from %s: %w", ep.Path, err)
		return res
	}
	if env.Error != nil && env.Error.present() {
		res.Err = env.Error
		return res
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		res.Err = ErrNoData
		return res
	}
	res.Data = env.Data
	return res
}

// Control sends commands to one device
func (c *Client) Control(ctx context.Context, dev Device, cmds []action.Command) *Response {
	return c.Post(ctx, ControlDeviceEndpoint, controlRequest{
		DeviceID:       dev.Barcode,
		FuncList:       cmds,
		DeviceTypeCode: dev.TypeCode,
	})
}

// Devices pages through the account's device list
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var all []Device
	for page := 0; page < maxPages; page++ {
		res := c.Get(ctx, UserDevicesEndpoint, map[string]string{
			"pageIndex": strconv.Itoa(page),
			"pageSize":  strconv.Itoa(c.cfg.PageSize),
		})
		if !res.OK() {
			return nil, fmt.Errorf("list devices, page %d: %w", page, res.Err)
		}
		var list deviceList
		if err := res.Decode(&list); err != nil {
			return nil, fmt.Errorf("list devices, page %d: %w", page, err)
		}
		all = append(all, list.DeviceInfos...)
		if len(list.DeviceInfos) < c.cfg.PageSize {
			break
		}
	}
	return all, nil
}

// Connections asks for the live network status of all devices in one call
func (c *Client) Connections(ctx context.Context, devs []Device) (map[string]bool, error) {
	ids := make([]string, 0, len(devs))
	for _, d := range devs {
		ids = append(ids, d.Barcode)
	}
	out := make(map[string]bool, len(devs))
	if len(ids) == 0 {
		return out, nil
	}

	res := c.Get(ctx, DeviceConnectionsEndpoint, map[string]string{"devIds": strings.Join(ids, ",")})
	if !res.OK() {
		return nil, fmt.Errorf("device connections: %w", res.Err)
	}
	var list connectionList
	if err := res.Decode(&list); err != nil {
		return nil, fmt.Errorf("device connections: %w", err)
	}
	for _, conn := range list.Devices {
		out[conn.DeviceID] = bool(conn.NetStatus)
	}
	return out, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	// the refresh call is not authenticated, it must not go through the token source
	res := c.post(ctx, RefreshTokenEndpoint, map[string]string{"refreshToken": refreshToken}, false)
	if !res.OK() {
		return nil, fmt.Errorf("refresh token: %w", res.Err)
	}
	var t token
	if err := res.Decode(&t); err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return newToken(t)
}

func (c *Client) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	res := c.post(ctx, TokenEndpoint, map[string]string{
		"authCode":    code,
		"redirectUrl": c.cfg.RedirectURL,
	}, false)
	if !res.OK() {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrSignIn, res.Err)
	}
	var t token
	if err := res.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrSignIn, err)
	}
	return newToken(t)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 256 {
		s = s[:256]
	}
	return s
}
