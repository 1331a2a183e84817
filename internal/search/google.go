// Package search implements the Google Custom Search JSON API client.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/linkforge/harvester/internal/harvest"
)

const defaultEndpoint = "https://www.googleapis.com/customsearch/v1"

// maxPageSize is the provider's hard cap on results per page.
const maxPageSize = 10

// Config controls the provider client.
type Config struct {
	Endpoint  string
	Timeout   time.Duration
	PageSize  int
	UserAgent string
}

// Client performs paginated fetches against the Custom Search JSON API and
// classifies provider failures into the engine's error taxonomy.
type Client struct {
	httpClient *http.Client
	endpoint   string
	pageSize   int
	userAgent  string
}

// New constructs a Client. Zero config fields fall back to provider defaults.
func New(cfg Config) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		pageSize:   pageSize,
		userAgent:  cfg.UserAgent,
	}
}

// PageSize returns the number of results requested per page.
func (c *Client) PageSize() int {
	return c.pageSize
}

// Search fetches one result page starting at startIndex (1-based).
func (c *Client) Search(
	ctx context.Context,
	query string,
	cred harvest.Credential,
	startIndex int,
) (harvest.SearchPage, error) {
	if startIndex < 1 {
		startIndex = 1
	}
	params := url.Values{}
	params.Set("key", cred.APIKey)
	params.Set("cx", cred.EngineID)
	params.Set("q", query)
	params.Set("start", strconv.Itoa(startIndex))
	params.Set("num", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return harvest.SearchPage{}, fmt.Errorf("build search request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return harvest.SearchPage{}, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return harvest.SearchPage{}, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return harvest.SearchPage{}, classifyStatus(resp.StatusCode, body)
	}

	var payload searchResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return harvest.SearchPage{}, &harvest.ProviderError{
			Code:       harvest.CodeUnknown,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed provider response: %v", err),
		}
	}
	return payload.toPage(), nil
}

// classifyStatus maps HTTP failures onto the error taxonomy. 403 carries both
// quota exhaustion and bad credentials; the body text disambiguates.
func classifyStatus(status int, body []byte) *harvest.ProviderError {
	message := extractMessage(body)
	code := harvest.CodeUnknown
	switch status {
	case http.StatusTooManyRequests:
		code = harvest.CodeRateLimit
	case http.StatusForbidden:
		lower := strings.ToLower(message)
		if strings.Contains(lower, "quota") ||
			strings.Contains(lower, "rate limit exceeded") ||
			strings.Contains(lower, "daily limit") {
			code = harvest.CodeQuotaExceeded
		} else {
			code = harvest.CodeInvalidCredential
		}
	case http.StatusBadRequest:
		code = harvest.CodeInvalidRequest
	}
	return &harvest.ProviderError{Code: code, StatusCode: status, Message: message}
}

// extractMessage pulls error.message out of the provider's error envelope,
// falling back to the raw body.
func extractMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		text = "provider returned an empty error body"
	}
	return text
}

type searchResponse struct {
	Items []struct {
		Title        string `json:"title"`
		Link         string `json:"link"`
		Snippet      string `json:"snippet"`
		DisplayLink  string `json:"displayLink"`
		FormattedURL string `json:"formattedUrl"`
	} `json:"items"`
	Queries struct {
		NextPage []struct {
			StartIndex int `json:"startIndex"`
		} `json:"nextPage"`
	} `json:"queries"`
	SearchInformation struct {
		TotalResults string `json:"totalResults"`
	} `json:"searchInformation"`
}

func (r searchResponse) toPage() harvest.SearchPage {
	page := harvest.SearchPage{}
	for _, item := range r.Items {
		page.Items = append(page.Items, harvest.SearchItem{
			URL:          item.Link,
			Title:        item.Title,
			Snippet:      item.Snippet,
			DisplayLink:  item.DisplayLink,
			FormattedURL: item.FormattedURL,
		})
	}
	if len(r.Queries.NextPage) > 0 {
		page.NextStartIndex = r.Queries.NextPage[0].StartIndex
	}
	if total, err := strconv.ParseInt(r.SearchInformation.TotalResults, 10, 64); err == nil {
		page.TotalResults = total
	}
	return page
}
