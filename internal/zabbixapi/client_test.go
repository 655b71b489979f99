package zabbixapi

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI emulates api_jsonrpc.php for a given frontend version
type fakeAPI struct {
	t        *testing.T
	version  string
	password string

	mu       sync.Mutex
	methods  []string
	requests []map[string]interface{}
	headers  []http.Header
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "/zabbix/api_jsonrpc.php", r.URL.Path)
	assert.Equal(f.t, "application/json-rpc", r.Header.Get("Content-Type"))

	var req map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	method, _ := req["method"].(string)
	f.methods = append(f.methods, method)
	f.requests = append(f.requests, req)
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req["id"]}
	switch method {
	case "apiinfo.version":
		resp["result"] = f.version
	case "user.login":
		params, _ := req["params"].(map[string]interface{})
		if params["password"] != f.password {
			resp["error"] = map[string]interface{}{
				"code":    -32602,
				"message": "Invalid params.",
				"data":    "Incorrect user name or password or account is temporarily blocked.",
			}
		} else {
			resp["result"] = "0424bd59b807674191e7d77572075f33"
		}
	case "user.logout":
		resp["result"] = true
	default:
		resp["error"] = map[string]interface{}{"code": -32601, "message": "Method not found."}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeAPI) request(i int) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

func newFakeAPI(t *testing.T, version string) (*fakeAPI, *httptest.Server) {
	api := &fakeAPI{t: t, version: version, password: "secret"}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://zabbix.example.org", "https://zabbix.example.org/api_jsonrpc.php"},
		{"https://zabbix.example.org/zabbix/", "https://zabbix.example.org/zabbix/api_jsonrpc.php"},
		{"https://zabbix.example.org/zabbix/api_jsonrpc.php", "https://zabbix.example.org/zabbix/api_jsonrpc.php"},
	}
	for _, tt := range tests {
		got, err := endpointURL(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := endpointURL("ftp://zabbix.example.org")
	assert.Error(t, err)
}

func TestLogin_ModernFrontend(t *testing.T) {
	api, srv := newFakeAPI(t, "7.0.5")

	client, err := New(Options{URL: srv.URL + "/zabbix", CertificateVerification: true}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Login(ctx, "testssl", "secret"))
	assert.True(t, client.LoggedIn())

	version, err := client.APIVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7.0.5", version)

	require.NoError(t, client.Logout(ctx))
	assert.False(t, client.LoggedIn())

	assert.Equal(t, []string{"apiinfo.version", "user.login", "user.logout"}, api.methods)

	login := api.request(1)["params"].(map[string]interface{})
	assert.Equal(t, "testssl", login["username"])
	assert.NotContains(t, login, "user")

	logout := api.request(2)
	assert.NotContains(t, logout, "auth")
	assert.Equal(t, "Bearer 0424bd59b807674191e7d77572075f33", api.headers[2].Get("Authorization"))
}

func TestLogin_LegacyFrontend(t *testing.T) {
	api, srv := newFakeAPI(t, "5.0.40")

	client, err := New(Options{URL: srv.URL + "/zabbix/", CertificateVerification: true}, discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, client.Login(ctx, "testssl", "secret"))
	require.NoError(t, client.Logout(ctx))

	login := api.request(1)["params"].(map[string]interface{})
	assert.Equal(t, "testssl", login["user"])
	assert.NotContains(t, login, "username")

	logout := api.request(2)
	assert.Equal(t, "0424bd59b807674191e7d77572075f33", logout["auth"])
	assert.Empty(t, api.headers[2].Get("Authorization"))
}

func TestLogin_BadPassword(t *testing.T) {
	_, srv := newFakeAPI(t, "6.0.30")

	client, err := New(Options{URL: srv.URL + "/zabbix", CertificateVerification: true}, discardLogger())
	require.NoError(t, err)

	err = client.Login(context.Background(), "testssl", "wrong")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, -32602, apiErr.Code)
	assert.False(t, client.LoggedIn())
}

func TestLogin_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	client, err := New(Options{URL: srv.URL, CertificateVerification: true}, discardLogger())
	require.NoError(t, err)

	err = client.Login(context.Background(), "testssl", "secret")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
}

func TestLogoutWithoutSession(t *testing.T) {
	client, err := New(Options{URL: "https://zabbix.invalid", CertificateVerification: true}, discardLogger())
	require.NoError(t, err)
	assert.NoError(t, client.Logout(context.Background()))
}

func newTLSFakeAPI(t *testing.T) *httptest.Server {
	api := &fakeAPI{t: t, version: "6.4.0", password: "secret"}
	srv := httptest.NewTLSServer(api)
	t.Cleanup(srv.Close)
	return srv
}

func TestTLSVerification(t *testing.T) {
	srv := newTLSFakeAPI(t)

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caPath, caPEM, 0644))

	tests := []struct {
		name         string
		opts         Options
		wantInsecure bool
		wantErr      bool
	}{
		{
			name:    "Default Verifies",
			opts:    Options{CertificateVerification: true},
			wantErr: true,
		},
		{
			name:         "Verification Disabled",
			opts:         Options{CertificateVerification: false},
			wantInsecure: true,
		},
		{
			name:         "Verify False Wins",
			opts:         Options{Verify: "False", CertificateVerification: true},
			wantInsecure: true,
		},
		{
			name:    "Verify True Wins",
			opts:    Options{Verify: "true", CertificateVerification: false},
			wantErr: true,
		},
		{
			name: "CA Bundle",
			opts: Options{Verify: caPath, CertificateVerification: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.URL = srv.URL + "/zabbix"

			client, err := New(opts, discardLogger())
			require.NoError(t, err)
			assert.Equal(t, tt.wantInsecure, client.Insecure())

			err = client.Login(context.Background(), "testssl", "secret")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_BadCABundle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0644))

	_, err := New(Options{URL: "https://zabbix.example.org", Verify: path}, discardLogger())
	assert.Error(t, err)

	_, err = New(Options{URL: "https://zabbix.example.org", Verify: filepath.Join(t.TempDir(), "missing.pem")}, discardLogger())
	assert.Error(t, err)
}

func TestProxy(t *testing.T) {
	api := &fakeAPI{t: t, version: "6.0.0", password: "secret"}
	var proxied []string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = append(proxied, r.Host)
		api.ServeHTTP(w, r)
	}))
	t.Cleanup(proxy.Close)

	client, err := New(Options{
		URL:                     "http://zabbix.invalid/zabbix",
		CertificateVerification: true,
		Proxy:                   proxy.URL,
	}, discardLogger())
	require.NoError(t, err)

	require.NoError(t, client.Login(context.Background(), "testssl", "secret"))
	assert.Equal(t, []string{"zabbix.invalid", "zabbix.invalid"}, proxied)
}

func TestVersionGates(t *testing.T) {
	tests := []struct {
		raw          string
		wantUsername bool
		wantBearer   bool
	}{
		{"5.2.7", false, false},
		{"5.4", true, false},
		{"5.4.0", true, false},
		{"6.0.30", true, false},
		{"6.4.0rc1", true, true},
		{"7.2.1", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			v, err := parseVersion(tt.raw)
			require.NoError(t, err)

			client := &Client{apiVersion: v}
			assert.Equal(t, tt.wantUsername, client.atLeast(usernameParamSince))
			assert.Equal(t, tt.wantBearer, client.atLeast(bearerAuthSince))
		})
	}

	_, err := parseVersion("not-a-version")
	assert.Error(t, err)
	assert.False(t, (&Client{}).atLeast(usernameParamSince), "unknown version uses legacy params")
}
