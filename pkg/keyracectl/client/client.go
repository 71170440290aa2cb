package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to the keyrace leaderboard server. Count uploads are rate
// limited so a keystroke-driven caller cannot flood the server.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		userAgent: "keyracectl",
		limiter:   rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.baseURL == nil {
		return nil, errors.New("server is required")
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		c.baseURL = parsed
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.userAgent = userAgent
		return nil
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) error {
		c.http = client
		return nil
	}
}

// WithUploadLimit overrides the rate limit applied to ReportCount.
func WithUploadLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) error {
		c.limiter = rate.NewLimiter(limit, burst)
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		transport := &http.Transport{TLSClientConfig: tlsConfig}
		c.http = &http.Client{Transport: transport, Timeout: 30 * time.Second}
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure}
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Leaderboard fetches the server-rendered leaderboard for a team.
func (c *Client) Leaderboard(ctx context.Context, team string) (string, error) {
	if team == "" {
		return "", errors.New("team is required")
	}
	values := url.Values{}
	values.Set("team", team)
	return c.get(ctx, "/", values)
}

// ReportCount uploads the player's current keystroke count for today.
func (c *Client) ReportCount(ctx context.Context, name, team string, count int) error {
	if name == "" || team == "" {
		return errors.New("name and team are required")
	}
	if count < 0 {
		return fmt.Errorf("count must not be negative: %d", count)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	values := url.Values{}
	values.Set("name", name)
	values.Set("team", team)
	values.Set("count", strconv.Itoa(count))
	_, err := c.get(ctx, "/count", values)
	return err
}

func (c *Client) get(ctx context.Context, endpoint string, values url.Values) (string, error) {
	fullURL := *c.baseURL
	fullURL.Path = strings.TrimRight(fullURL.Path, "/") + endpoint
	fullURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return "", err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return "", &HTTPError{StatusCode: resp.StatusCode, Message: msg}
	}
	return string(body), nil
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}
