// Package zabbixapi is a minimal JSON-RPC client for the Zabbix frontend API.
// It only covers what a check run needs: version probe, login and logout.
package zabbixapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-version"
)

const userAgent = "mit-check-cert"

// Options controls how the API endpoint is reached
type Options struct {
	URL string

	// Verify is either a boolean-like toggle or a CA bundle path
	Verify string

	// CertificateVerification is only consulted when Verify is empty
	CertificateVerification bool

	Proxy   string
	Timeout time.Duration
}

// Client talks to api_jsonrpc.php
type Client struct {
	endpoint string
	http     *http.Client
	insecure bool
	logger   *slog.Logger

	requestID  atomic.Int64
	rawVersion string
	apiVersion *version.Version
	auth       string
}

// New builds a client from opts
func New(opts Options, logger *slog.Logger) (*Client, error) {
	endpoint, err := endpointURL(opts.URL)
	if err != nil {
		return nil, err
	}

	transport := cleanhttp.DefaultPooledTransport()
	tlsConfig := &tls.Config{}

	if opts.Verify != "" {
		if verify, ok := parseBoolLike(opts.Verify); ok {
			tlsConfig.InsecureSkipVerify = !verify
		} else {
			pool, err := loadCABundle(opts.Verify)
			if err != nil {
				return nil, err
			}
			tlsConfig.RootCAs = pool
		}
	} else if !opts.CertificateVerification {
		tlsConfig.InsecureSkipVerify = true
	}
	transport.TLSClientConfig = tlsConfig

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		insecure: tlsConfig.InsecureSkipVerify,
		logger:   logger.With("component", "zabbix_api"),
	}, nil
}

// Insecure reports whether certificate verification is disabled
func (c *Client) Insecure() bool {
	return c.insecure
}

// LoggedIn reports whether the client holds a session
func (c *Client) LoggedIn() bool {
	return c.auth != ""
}

// APIVersion returns the frontend version reported by apiinfo.version
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	if c.apiVersion != nil {
		return c.rawVersion, nil
	}

	var raw string
	if err := c.call(ctx, "apiinfo.version", []string{}, false, &raw); err != nil {
		return "", err
	}
	parsed, err := parseVersion(raw)
	if err != nil {
		return "", err
	}
	c.rawVersion, c.apiVersion = raw, parsed
	return raw, nil
}

// Login opens a session for user
func (c *Client) Login(ctx context.Context, user, password string) error {
	apiVersion, err := c.APIVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to detect api version: %w", err)
	}

	// "user" was renamed to "username" in 5.4
	userParam := "username"
	if !c.atLeast(usernameParamSince) {
		userParam = "user"
	}

	c.auth = ""
	var token string
	params := map[string]string{userParam: user, "password": password}
	if err := c.call(ctx, "user.login", params, false, &token); err != nil {
		return fmt.Errorf("login as %s failed: %w", user, err)
	}
	if token == "" {
		return fmt.Errorf("login as %s failed: empty session token", user)
	}

	c.auth = token
	c.logger.Debug("Logged in to Zabbix API", "user", user, "version", apiVersion)
	return nil
}

// Logout closes the session opened by Login
func (c *Client) Logout(ctx context.Context) error {
	if c.auth == "" {
		return nil
	}

	var ok bool
	err := c.call(ctx, "user.logout", []string{}, true, &ok)
	c.auth = ""
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	return nil
}

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
	Auth    string      `json:"auth,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *APIError       `json:"error"`
	ID      int64           `json:"id"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, authenticated bool, result interface{}) error {
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.requestID.Add(1),
	}

	bearer := false
	if authenticated {
		// Authorization header since 6.4, the auth field was dropped in 7.2
		if c.atLeast(bearerAuthSince) {
			bearer = true
		} else {
			req.Auth = c.auth
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json-rpc")
	httpReq.Header.Set("User-Agent", userAgent)
	if bearer {
		httpReq.Header.Set("Authorization", "Bearer "+c.auth)
	}

	c.logger.Debug("Calling Zabbix API", "method", method, "id", req.ID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.ID != req.ID {
		return fmt.Errorf("%s response id %d does not match request id %d", method, rpcResp.ID, req.ID)
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func endpointURL(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("api url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid api url %q: scheme must be http or https", raw)
	}
	if !strings.HasSuffix(u.Path, ".php") {
		u.Path = strings.TrimRight(u.Path, "/") + "/api_jsonrpc.php"
	}
	return u.String(), nil
}

func loadCABundle(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in CA bundle %s", path)
	}
	return pool, nil
}

// parseBoolLike accepts the same spellings as Python's configparser
func parseBoolLike(s string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "yes", "true", "on":
		return true, true
	case "0", "no", "false", "off":
		return false, true
	}
	return false, false
}
