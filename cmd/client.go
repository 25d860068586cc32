package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/config"
)

// serverURL is the base URL of the locally configured server. A wildcard
// listen host is reached over loopback.
func serverURL(cfg *config.Config, scheme string) url.URL {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return url.URL{Scheme: scheme, Host: host + ":" + strconv.Itoa(cfg.Server.Port)}
}

type apiClient struct {
	base  url.URL
	token string
	http  *http.Client
}

func newAPIClient() (*apiClient, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:  serverURL(cfg, "http"),
		token: cfg.Server.Token,
		http:  &http.Client{Timeout: 90 * time.Second},
	}, nil
}

// do sends body (if non-nil) as JSON and decodes the response into out.
// Non-2xx responses are returned as errors unless out accepts them.
func (c *apiClient) do(method, path string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}

	u := c.base
	u.Path = path
	req, err := http.NewRequest(method, u.String(), rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("connect to server at %s: %w", c.base.String(), err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}

// isServerReachable checks whether the configured server answers /healthz.
func isServerReachable() bool {
	c, err := newAPIClient()
	if err != nil {
		return false
	}
	c.http.Timeout = 2 * time.Second
	code, err := c.do(http.MethodGet, "/healthz", nil, nil)
	return err == nil && code == http.StatusOK
}
