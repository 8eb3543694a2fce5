// Package corepapers implements the literature search tool backed by the
// CORE API v3. The HTTP client owns its retry policy (bounded attempts with
// exponential backoff on transient statuses) and shapes raw hits into compact
// paper summaries for the model.
package corepapers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/scholarflow/internal/retry"
	"github.com/BaSui01/scholarflow/internal/tlsutil"
	"github.com/BaSui01/scholarflow/types"
)

const (
	// DefaultBaseURL is the CORE API v3 endpoint.
	DefaultBaseURL = "https://api.core.ac.uk/v3"

	defaultUserAgent = "scholarflow/1.0 (research agent)"

	maxAbstractLen = 500
	maxAuthors     = 5
)

// transientStatuses are the HTTP statuses worth retrying. Anything else
// fails immediately with a structured error.
var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ClientConfig configures the CORE API client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per-request timeout, default 15s
	MaxRetries int           // retries after the first attempt, default 4 (5 attempts total)
	// RatePerSecond caps outbound request rate. Default 2/s.
	RatePerSecond float64
}

// Client is a CORE API v3 search client.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	retryer retry.Retryer
	logger  *zap.Logger
}

// NewClient creates a CORE client with retry and rate limiting.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    tlsutil.Client(cfg.Timeout),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		retryer: retry.New(&retry.Policy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: 2 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
		logger: logger.With(zap.String("component", "corepapers")),
	}
}

// Paper is a shaped search hit.
type Paper struct {
	Title           string   `json:"title"`
	ID              any      `json:"id,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	URLs            []string `json:"urls,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
}

// SearchResult is the shaped search response.
type SearchResult struct {
	Status       string  `json:"status"`
	ResultsCount int     `json:"results_count"`
	Papers       []Paper `json:"papers"`
	Message      string  `json:"message,omitempty"`
}

// rawResponse mirrors the CORE /search/outputs response shape.
type rawResponse struct {
	Results []rawPaper `json:"results"`
}

type rawPaper struct {
	ID            any    `json:"id"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	PublishedDate string `json:"publishedDate"`
	YearPublished any    `json:"yearPublished"`
	Authors       []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
		Name   string `json:"name"`
	} `json:"authors"`
	SourceFulltextURLs []string `json:"sourceFulltextUrls"`
}

// Search queries CORE and returns shaped, relevance-filtered results.
// Transient upstream failures are retried with exponential backoff;
// non-transient statuses fail immediately as a structured error.
func (c *Client) Search(ctx context.Context, query string, limit int) (*SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.NewError(types.ErrToolValidation, "query must not be empty")
	}
	if limit < 1 {
		limit = 1
	}

	var raw rawResponse
	err := c.retryer.Do(ctx, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.doSearch(ctx, query, limit, &raw)
	})
	if err != nil {
		return nil, err
	}

	papers := shapePapers(filterRelevant(raw.Results, query), limit)
	result := &SearchResult{
		Status:       "success",
		ResultsCount: len(papers),
		Papers:       papers,
	}
	if len(papers) == 0 {
		result.Message = "no relevant results found"
	}
	return result, nil
}

func (c *Client) doSearch(ctx context.Context, query string, limit int, out *rawResponse) error {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/search/outputs"
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sort", "relevance:desc")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures are worth retrying.
		return retry.WrapTransient(types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := types.NewError(types.ErrUpstreamError, fmt.Sprintf("CORE API returned HTTP %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode)
		if transientStatuses[resp.StatusCode] {
			return retry.WrapTransient(apiErr.WithRetryable(true))
		}
		return apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.WrapTransient(types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.NewError(types.ErrMalformedOutput, "CORE API returned invalid JSON").WithCause(err)
	}
	return nil
}

var wordSplitRe = regexp.MustCompile(`\W+`)

// filterRelevant keeps hits whose title or abstract mentions at least one
// query keyword. CORE relevance sorting alone lets marginal hits through.
func filterRelevant(results []rawPaper, query string) []rawPaper {
	var keywords []string
	for _, kw := range wordSplitRe.Split(strings.ToLower(query), -1) {
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return results
	}

	var filtered []rawPaper
	for _, p := range results {
		title := strings.ToLower(p.Title)
		abstract := strings.ToLower(p.Abstract)
		for _, kw := range keywords {
			if strings.Contains(title, kw) || strings.Contains(abstract, kw) {
				filtered = append(filtered, p)
				break
			}
		}
	}
	return filtered
}

func shapePapers(results []rawPaper, limit int) []Paper {
	papers := make([]Paper, 0, limit)
	for _, p := range results {
		if len(papers) >= limit {
			break
		}

		var authors []string
		for _, a := range p.Authors {
			name := strings.TrimSpace(a.Given + " " + a.Family)
			if name == "" {
				name = strings.TrimSpace(a.Name)
			}
			if name != "" {
				authors = append(authors, name)
			}
			if len(authors) >= maxAuthors {
				break
			}
		}

		date := p.PublishedDate
		if date == "" && p.YearPublished != nil {
			date = fmt.Sprintf("%v", p.YearPublished)
		}

		abstract := truncateRunes(p.Abstract, maxAbstractLen)

		title := p.Title
		if title == "" {
			title = "Untitled"
		}

		papers = append(papers, Paper{
			Title:           title,
			ID:              p.ID,
			PublicationDate: date,
			Authors:         authors,
			URLs:            p.SourceFulltextURLs,
			Abstract:        abstract,
		})
	}
	return papers
}

// truncateRunes cuts s to at most max characters, never splitting a
// multi-byte rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
