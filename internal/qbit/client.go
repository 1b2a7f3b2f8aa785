package qbit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"torrentbridge/pkg/magnet"
)

// WebUI API paths.
const (
	loginPath = "/api/v2/auth/login"
	addPath   = "/api/v2/torrents/add"
	infoPath  = "/api/v2/torrents/info"

	// Batch status queries join hashes with this delimiter.
	hashDelimiter = "|"

	// Response body the WebUI returns for a rejected login.
	loginFailedBody = "Fails."
)

// Client talks to the qBittorrent WebUI API. It logs in lazily, reuses the
// session cookie for all calls, and re-authenticates exactly once when the
// session expires. The mutex gives single-flight access to the session
// cookie so concurrent callers cannot trigger parallel re-logins.
type Client struct {
	baseURL    string
	httpClient *http.Client
	username   string
	password   string
	logger     *slog.Logger

	mu  sync.Mutex
	sid string
}

// NewClient creates a WebUI client. baseURL is the root of the WebUI, e.g.
// "http://localhost:8080". The caller configures the HTTP client's timeout;
// nil falls back to http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		username:   username,
		password:   password,
		logger:     logger,
	}
}

// Login authenticates against the WebUI and stores the session cookie.
// Called lazily by the authenticated methods; exported so the daemon can
// verify credentials at startup.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.login(ctx)
}

// login performs the credential POST. Caller must hold c.mu.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{
		"username": {c.username},
		"password": {c.password},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("qbit: creating login request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &APIError{Op: "login", StatusCode: resp.StatusCode, Err: ErrAPIContract}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading login response: %v", ErrUnavailable, err)
	}

	if strings.TrimSpace(string(body)) == loginFailedBody {
		return ErrBadCredentials
	}

	sid := sessionCookie(resp)
	if sid == "" {
		return fmt.Errorf("%w: login response missing SID cookie", ErrAPIContract)
	}

	c.sid = sid
	c.logger.Info("logged in to qbittorrent", slog.String("url", c.baseURL))

	return nil
}

// sessionCookie extracts the SID session cookie from a login response.
func sessionCookie(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == "SID" {
			return cookie.Value
		}
	}

	return ""
}

// AddTorrent submits a magnet URI with a category. The canonical info-hash
// is computed before the network call, so it is returned alongside a
// submission error: the caller still learns what identifier would have been
// tracked.
func (c *Client) AddTorrent(ctx context.Context, req AddRequest) (string, error) {
	hash, err := magnet.InfoHash(req.MagnetURI)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	form := url.Values{
		"urls":     {req.MagnetURI},
		"category": {req.Category},
	}

	resp, err := c.doAuthed(ctx, "add torrent", http.MethodPost, addPath, form)
	if err != nil {
		return hash, err
	}
	resp.Body.Close()

	c.logger.Info("torrent submitted",
		slog.String("hash", hash),
		slog.String("category", req.Category),
		slog.String("request_id", req.RequestID),
	)

	return hash, nil
}

// TorrentInfo queries status for a batch of hashes and parses the snapshot
// list. An empty batch is the caller's responsibility to avoid; the WebUI
// would interpret it as "all torrents".
func (c *Client) TorrentInfo(ctx context.Context, hashes []string) ([]Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := infoPath + "?hashes=" + url.QueryEscape(strings.Join(hashes, hashDelimiter))

	resp, err := c.doAuthed(ctx, "torrent info", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var snapshots []Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshots); err != nil {
		return nil, fmt.Errorf("%w: decoding torrent info: %v", ErrUnavailable, err)
	}

	c.logger.Debug("torrent info fetched",
		slog.Int("requested", len(hashes)),
		slog.Int("returned", len(snapshots)),
	)

	return snapshots, nil
}

// doAuthed issues an authenticated request, logging in first if no session
// is held. A 403 response clears the session, re-authenticates exactly once
// and retries the call exactly once; this bounds re-auth recursion. A 403 on
// the retried call surfaces through the ordinary non-success path as
// retriable. Caller must hold c.mu and close the response body on success.
func (c *Client) doAuthed(ctx context.Context, op, method, path string, form url.Values) (*http.Response, error) {
	if c.sid == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, method, path, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		c.logger.Info("session expired, re-authenticating", slog.String("op", op))

		c.sid = ""
		if err := c.login(ctx); err != nil {
			return nil, err
		}

		resp, err = c.do(ctx, method, path, form)
		if err != nil {
			return nil, fmt.Errorf("%w: %s (after re-auth): %v", ErrUnavailable, op, err)
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Err: ErrUnavailable}
	}

	return resp, nil
}

// do executes a single request carrying the session cookie.
func (c *Client) do(ctx context.Context, method, path string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.AddCookie(&http.Cookie{Name: "SID", Value: c.sid})

	return c.httpClient.Do(req)
}
