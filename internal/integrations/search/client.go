// Package search is a thin client for the managed search service's REST
// surface. Ranking, semantic rescoring, and keyword fallback all happen
// service-side; this client only submits queries and decodes passages.
package search

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
	"sync"
	"time"

	"booksearch-agent/internal/domain"
)

const apiVersion = "2024-07-01"

// keyPayload is the expected JSON shape stored in SSM for the admin key.
type keyPayload struct {
	Key string `json:"key"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx search service responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("search: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client talks to the search service over its documents REST API.
type Client struct {
	endpoint    string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for the given service endpoint. The admin key is
// fetched from SSM on first use and cached for the process lifetime, the same
// way the LLM client resolves its token.
func NewClient(ps Getter, paramPrefix, endpoint string, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("search: paramstore getter must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("search: parameter prefix must not be empty")
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("search: endpoint must not be empty")
	}
	c := &Client{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.keyParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) keyParameterName() string {
	return c.paramPrefix + "/search-api-key"
}

type indexListResponse struct {
	Value []struct {
		Name string `json:"name"`
	} `json:"value"`
}

// ListIndexes returns the names of every index on the service.
func (c *Client) ListIndexes(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/indexes?api-version=%s&$select=name", c.endpoint, apiVersion)

	raw, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("search: list indexes: %w", err)
	}

	var payload indexListResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("search: decode index list: %w", err)
	}
	names := make([]string, 0, len(payload.Value))
	for _, idx := range payload.Value {
		names = append(names, idx.Name)
	}
	return names, nil
}

type searchRequest struct {
	Search                string `json:"search"`
	Top                   int    `json:"top"`
	QueryType             string `json:"queryType,omitempty"`
	SemanticConfiguration string `json:"semanticConfiguration,omitempty"`
	Select                string `json:"select"`
}

type searchResponse struct {
	Value []struct {
		Score    float64 `json:"@search.score"`
		ID       string  `json:"id"`
		Content  string  `json:"content"`
		Title    string  `json:"title"`
		Filepath string  `json:"filepath"`
	} `json:"value"`
}

// Search runs a semantic query against one index, falling back to a plain
// keyword query when the semantic pass returns nothing.
func (c *Client) Search(ctx context.Context, indexName, query string, top int) ([]domain.Passage, error) {
	indexName = strings.TrimSpace(indexName)
	if indexName == "" {
		return nil, errors.New("search: index name must not be empty")
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search: query must not be empty")
	}
	if top <= 0 {
		top = 5
	}

	passages, err := c.searchIndex(ctx, indexName, searchRequest{
		Search:                query,
		Top:                   top,
		QueryType:             "semantic",
		SemanticConfiguration: "default",
		Select:                "id,content,title,filepath",
	})
	if err != nil {
		return nil, err
	}
	if len(passages) > 0 {
		return passages, nil
	}

	return c.searchIndex(ctx, indexName, searchRequest{
		Search: query,
		Top:    top,
		Select: "id,content,title,filepath",
	})
}

func (c *Client) searchIndex(ctx context.Context, indexName string, req searchRequest) ([]domain.Passage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("search: marshal query: %w", err)
	}

	u := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		c.endpoint, url.PathEscape(indexName), apiVersion)

	raw, err := c.doRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("search: query index %q: %w", indexName, err)
	}

	var payload searchResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("search: decode query response: %w", err)
	}
	passages := make([]domain.Passage, 0, len(payload.Value))
	for _, doc := range payload.Value {
		passages = append(passages, domain.Passage{
			ID:          doc.ID,
			Content:     doc.Content,
			Title:       doc.Title,
			Filepath:    doc.Filepath,
			SourceIndex: indexName,
			Score:       doc.Score,
		})
	}
	return passages, nil
}

func (c *Client) doRequest(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", apiKey)

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        u,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("search: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("search: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("search: fetch key from paramstore: %w", err)
	}
	var kp keyPayload
	if err := json.Unmarshal([]byte(raw), &kp); err != nil {
		return "", fmt.Errorf("search: unmarshal paramstore key value as JSON: %w", err)
	}
	if kp.Key == "" {
		return "", errors.New("search: API key is empty")
	}
	return kp.Key, nil
}
