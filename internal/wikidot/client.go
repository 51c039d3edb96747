// Package wikidot implements the live remote client. Wikidot exposes no
// official API; everything goes through the ajax-module-connector endpoint,
// which accepts form-encoded module calls and returns JSON envelopes whose
// body is an HTML fragment. The fragments are parsed with goquery.
package wikidot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/anqxyr/pyscp/internal/wiki"
)

const (
	// token7 can be any six-digit value as long as the payload and the
	// cookie agree.
	token7           = "123456"
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "pyscp/2.0 (+https://github.com/anqxyr/pyscp)"
	listPageSize     = 250
)

// Config controls Client behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	Logger    *zap.Logger
	// HTTPClient overrides the transport, used by tests.
	HTTPClient *http.Client
}

// pageInfo caches the numeric identifiers a page GET reveals; most module
// calls are keyed by them rather than by URL.
type pageInfo struct {
	id       int64
	threadID int64
}

// Client talks to one Wikidot site. It implements both wiki.Client (the
// facet capability the crawler consumes) and wiki.Browser (the shared read
// contract).
type Client struct {
	site      string
	http      *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	infos map[string]pageInfo
}

var (
	_ wiki.Client  = (*Client)(nil)
	_ wiki.Browser = (*Client)(nil)
)

// New creates a Client for the given site. Bare names are expanded to
// wikidot.com hosts: "scp-wiki" becomes "http://scp-wiki.wikidot.com".
func New(site string, cfg Config) (*Client, error) {
	normalized, err := NormalizeSite(site)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			// Redirects on page GETs usually mean the page moved or the
			// site name is wrong; surface them instead of following.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Client{
		site:      normalized,
		http:      httpClient,
		userAgent: cfg.UserAgent,
		logger:    logger,
		infos:     make(map[string]pageInfo),
	}, nil
}

// Site returns the normalized site root, e.g. "http://scp-wiki.wikidot.com".
func (c *Client) Site() string {
	return c.site
}

// NormalizeSite expands a bare site name into a full wikidot.com URL.
func NormalizeSite(site string) (string, error) {
	if site == "" {
		return "", fmt.Errorf("site is required")
	}
	parsed, err := url.Parse(site)
	if err != nil {
		return "", fmt.Errorf("parse site %q: %w", site, err)
	}
	host := parsed.Host
	if host == "" {
		host = parsed.Path
	}
	if !strings.Contains(host, ".") {
		host += ".wikidot.com"
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + host, nil
}

// PageURL joins a page name onto the site root, canonicalizing the way
// Wikidot does: spaces and underscores collapse to dashes, lowercase.
func (c *Client) PageURL(name string) string {
	if strings.HasPrefix(name, c.site) {
		name = strings.TrimPrefix(name, c.site)
	}
	name = strings.Trim(name, "/")
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")
	return c.site + "/" + strings.ToLower(name)
}

// moduleResponse is the JSON envelope every module call returns.
type moduleResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Body    string `json:"body"`
}

// module performs one ajax-module-connector call and returns the HTML
// fragment body.
func (c *Client) module(ctx context.Context, name string, params url.Values) (string, error) {
	op := "module " + name
	form := url.Values{}
	for k, vs := range params {
		form[k] = vs
	}
	form.Set("moduleName", name)
	form.Set("wikidot_token7", token7)

	endpoint := c.site + "/ajax-module-connector.php"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Malformed, op, endpoint, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;")
	req.Header.Set("User-Agent", c.userAgent)
	req.AddCookie(&http.Cookie{Name: "wikidot_token7", Value: token7})

	resp, err := c.http.Do(req)
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Transient, op, endpoint, err)
	}
	defer resp.Body.Close()

	if kind, terminal := classifyStatus(resp.StatusCode); terminal {
		return "", wiki.NewRemoteError(kind, op, endpoint,
			fmt.Errorf("http status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Transient, op, endpoint, err)
	}
	var env moduleResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", wiki.NewRemoteError(wiki.Malformed, op, endpoint, err)
	}
	if env.Status != "ok" {
		return "", moduleError(op, endpoint, env)
	}
	return env.Body, nil
}

// get fetches a raw page and returns its HTML.
func (c *Client) get(ctx context.Context, pageURL string) (string, error) {
	const op = "get page"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Malformed, op, pageURL, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Transient, op, pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return "", wiki.NewRemoteError(wiki.NotFound, op, pageURL,
			fmt.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusForbidden:
		return "", wiki.NewRemoteError(wiki.Forbidden, op, pageURL,
			fmt.Errorf("http status %d", resp.StatusCode))
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return "", wiki.NewRemoteError(wiki.Malformed, op, pageURL,
			fmt.Errorf("redirect attempted (status %d)", resp.StatusCode))
	default:
		return "", wiki.NewRemoteError(wiki.Transient, op, pageURL,
			fmt.Errorf("http status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", wiki.NewRemoteError(wiki.Transient, op, pageURL, err)
	}
	return string(body), nil
}

// classifyStatus maps an HTTP status to an error kind; the second return
// is false for success codes.
func classifyStatus(code int) (wiki.ErrorKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, false
	case code == http.StatusNotFound:
		return wiki.NotFound, true
	case code == http.StatusForbidden:
		return wiki.Forbidden, true
	case code == http.StatusTooManyRequests:
		return wiki.Transient, true
	case code >= 500:
		return wiki.Transient, true
	default:
		return wiki.Malformed, true
	}
}

// moduleError maps a non-ok module envelope onto the taxonomy. Wikidot
// reports throttling as "try_again" with an HTTP 200.
func moduleError(op, endpoint string, env moduleResponse) error {
	err := fmt.Errorf("module status %q: %s", env.Status, env.Message)
	switch env.Status {
	case "try_again":
		return wiki.NewRemoteError(wiki.Transient, op, endpoint, err)
	case "no_page", "no_thread", "no_post":
		return wiki.NewRemoteError(wiki.NotFound, op, endpoint, err)
	case "no_permission", "not_allowed":
		return wiki.NewRemoteError(wiki.Forbidden, op, endpoint, err)
	default:
		return wiki.NewRemoteError(wiki.Malformed, op, endpoint, err)
	}
}

func (c *Client) cachedInfo(url string) (pageInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.infos[url]
	return info, ok
}

func (c *Client) storeInfo(url string, info pageInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[url] = info
}

// resolveInfo returns the numeric ids of a page, fetching its HTML head
// if they are not cached yet.
func (c *Client) resolveInfo(ctx context.Context, url string) (pageInfo, error) {
	if info, ok := c.cachedInfo(url); ok {
		return info, nil
	}
	html, err := c.get(ctx, url)
	if err != nil {
		return pageInfo{}, err
	}
	info, err := parsePageInfo(url, html)
	if err != nil {
		return pageInfo{}, err
	}
	c.storeInfo(url, info)
	return info, nil
}
