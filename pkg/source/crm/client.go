// Package crm fetches records from a CRM object store through its REST query
// API, authenticating with the OAuth2 client-credentials grant.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/phimask/phimask/pkg/source"
	"github.com/phimask/phimask/pkg/version"
)

// errUnauthorized marks a 401 from the query endpoint so the caller can re-authenticate once.
var errUnauthorized = errors.New("session rejected")

// Client provides HTTP access to the CRM token and query endpoints.
type Client struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger

	mu          sync.Mutex
	token       string
	instanceURL string
}

// NewClient creates a CRM client. No request is made until the first query.
func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     slog.Default(),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// authenticate obtains a fresh access token. Callers hold c.mu.
func (c *Client) authenticate(ctx context.Context, name string) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return source.NewError(name, source.KindConnect, fmt.Errorf("create token request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return source.NewError(name, source.KindConnect, fmt.Errorf("request token: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return source.NewError(name, source.KindAuth, fmt.Errorf("token endpoint returned HTTP %d: %s", resp.StatusCode, readSnippet(resp.Body)))
	default:
		return source.NewError(name, source.KindConnect, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return source.NewError(name, source.KindAuth, fmt.Errorf("decode token response: %w", err))
	}
	if tok.AccessToken == "" {
		return source.NewError(name, source.KindAuth, errors.New("token response has no access_token"))
	}

	c.token = tok.AccessToken
	c.instanceURL = strings.TrimRight(tok.InstanceURL, "/")
	if c.instanceURL == "" {
		c.instanceURL = c.cfg.URL
	}
	return nil
}

// session returns a valid token and instance URL, authenticating if needed.
func (c *Client) session(ctx context.Context, name string, refresh bool) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || refresh {
		if err := c.authenticate(ctx, name); err != nil {
			return "", "", err
		}
	}
	return c.token, c.instanceURL, nil
}

// query runs a SOQL statement and returns every record, following
// nextRecordsUrl until the result is done. name labels errors.
func (c *Client) query(ctx context.Context, name, soql string) ([]object, error) {
	_, instanceURL, err := c.session(ctx, name, false)
	if err != nil {
		return nil, err
	}

	next := fmt.Sprintf("%s/services/data/%s/query?%s", instanceURL, c.cfg.APIVersion, url.Values{"q": {soql}}.Encode())
	var all []object
	pages := 0
	for next != "" {
		page, err := c.queryPage(ctx, name, next)
		if errors.Is(err, errUnauthorized) {
			c.logger.Info("CRM session rejected, re-authenticating", "source", name)
			if _, instanceURL, err = c.session(ctx, name, true); err != nil {
				return nil, err
			}
			page, err = c.queryPage(ctx, name, next)
			if errors.Is(err, errUnauthorized) {
				return nil, source.NewError(name, source.KindAuth, err)
			}
		}
		if err != nil {
			return nil, err
		}

		all = append(all, page.Records...)
		pages++
		next = ""
		if !page.Done && page.NextRecordsURL != "" {
			next = instanceURL + page.NextRecordsURL
		}
	}

	c.logger.Debug("CRM query complete", "source", name, "records", len(all), "pages", pages)
	return all, nil
}

type queryResponse struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl"`
	Records        []object `json:"records"`
}

func (c *Client) queryPage(ctx context.Context, name, pageURL string) (*queryResponse, error) {
	token, _, err := c.session(ctx, name, false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, source.NewError(name, source.KindQuery, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, source.NewError(name, source.KindConnect, fmt.Errorf("query: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, errUnauthorized
	case resp.StatusCode >= 500:
		return nil, source.NewError(name, source.KindConnect, fmt.Errorf("query endpoint returned HTTP %d", resp.StatusCode))
	default:
		return nil, source.NewError(name, source.KindQuery, fmt.Errorf("query endpoint returned HTTP %d: %s", resp.StatusCode, describeAPIError(resp.Body)))
	}

	var page queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, source.NewError(name, source.KindQuery, fmt.Errorf("decode query response: %w", err))
	}
	return &page, nil
}

// describeAPIError renders the CRM error array; the raw body is used when it is not one.
func describeAPIError(body io.Reader) string {
	raw := readSnippet(body)
	var errs []apiError
	if err := json.Unmarshal([]byte(raw), &errs); err != nil || len(errs) == 0 {
		return raw
	}
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.ErrorCode + ": " + e.Message
	}
	return strings.Join(parts, "; ")
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	return strings.TrimSpace(string(b))
}
