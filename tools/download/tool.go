// Package download implements the document download tool: fetch a paper by
// URL with scheme and content-type validation, bounded retry, and capped
// text extraction. The PDF text extraction itself is pluggable; the tool
// only enforces the caps and surfaces truncation as warnings.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scholarflow/internal/retry"
	"github.com/BaSui01/scholarflow/internal/tlsutil"
	"github.com/BaSui01/scholarflow/types"
)

// ToolName is the registered name of the download tool.
const ToolName = "download-paper"

const (
	// MaxPages bounds how many document pages are extracted.
	MaxPages = 50
	// MaxContentLen bounds the extracted text length in characters.
	MaxContentLen = 15000

	defaultUserAgent = "Mozilla/5.0 (compatible; scholarflow/1.0)"
)

var transientStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Extractor converts raw document bytes into per-page text. Implementations
// wrap a real PDF library; page capping and truncation are handled here.
type Extractor interface {
	// Extract returns the text of each page in order.
	Extract(data []byte) ([]string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(data []byte) ([]string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(data []byte) ([]string, error) { return f(data) }

// PlainTextExtractor treats the payload as UTF-8 text with form-feed page
// breaks. It stands in when no PDF backend is wired up.
func PlainTextExtractor() Extractor {
	return ExtractorFunc(func(data []byte) ([]string, error) {
		return strings.Split(string(data), "\f"), nil
	})
}

// Config configures the download tool.
type Config struct {
	Timeout    time.Duration // per-request timeout, default 30s
	MaxRetries int           // retries after the first attempt, default 2 (3 attempts total)
	MaxBody    int64         // response body cap in bytes, default 32 MiB
}

// Result is the download-paper payload shape.
type Result struct {
	Status         string   `json:"status"`
	URL            string   `json:"url"`
	PagesProcessed int      `json:"pages_processed"`
	Content        string   `json:"content"`
	Warnings       []string `json:"warnings"`
}

// Tool downloads a paper and extracts its text.
type Tool struct {
	cfg       Config
	http      *http.Client
	retryer   retry.Retryer
	extractor Extractor
	logger    *zap.Logger
}

// New creates the download-paper tool. A nil extractor selects
// PlainTextExtractor.
func New(cfg Config, extractor Extractor, logger *zap.Logger) *Tool {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxBody == 0 {
		cfg.MaxBody = 32 << 20
	}
	if extractor == nil {
		extractor = PlainTextExtractor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tool{
		cfg:  cfg,
		http: tlsutil.Client(cfg.Timeout),
		retryer: retry.New(&retry.Policy{
			MaxRetries:   cfg.MaxRetries,
			InitialDelay: 2 * time.Second,
			MaxDelay:     16 * time.Second,
			Multiplier:   2.0,
			Jitter:       true,
		}, logger),
		extractor: extractor,
		logger:    logger.With(zap.String("component", "download")),
	}
}

// Name implements tools.Tool.
func (t *Tool) Name() string { return ToolName }

// Schema implements tools.Tool.
func (t *Tool) Schema() types.ToolSchema {
	params := types.NewObjectSchema()
	params.AddProperty("url",
		types.NewStringSchema().WithDescription("A valid HTTP or HTTPS URL of a PDF document."), true)

	return types.ToolSchema{
		Name:        ToolName,
		Description: "Download a scientific paper PDF from a URL and extract its text.",
		Parameters:  params.MarshalRaw(),
	}
}

type downloadArgs struct {
	URL string `json:"url"`
}

// Invoke implements tools.Tool.
func (t *Tool) Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in downloadArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, types.NewError(types.ErrToolValidation, "invalid download-paper arguments").WithCause(err)
	}

	result, err := t.Download(ctx, in.URL)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Download fetches the document and extracts capped text. The URL scheme is
// validated before any network activity; non-transient HTTP statuses and
// non-PDF content types fail immediately without consuming the retry budget.
func (t *Tool) Download(ctx context.Context, rawURL string) (*Result, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	var data []byte
	err := t.retryer.Do(ctx, func() error {
		var fetchErr error
		data, fetchErr = t.fetch(ctx, rawURL)
		return fetchErr
	})
	if err != nil {
		return nil, err
	}

	return t.extract(rawURL, data)
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return types.NewError(types.ErrToolValidation, "invalid URL").WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return types.NewError(types.ErrToolValidation,
			fmt.Sprintf("URL scheme %q not allowed, must be http or https", u.Scheme))
	}
	if u.Host == "" {
		return types.NewError(types.ErrToolValidation, "URL has no host")
	}
	return nil
}

func (t *Tool) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, types.NewError(types.ErrToolValidation, "failed to build request").WithCause(err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, retry.WrapTransient(types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		httpErr := types.NewError(types.ErrUpstreamError, fmt.Sprintf("HTTP %d", resp.StatusCode)).
			WithHTTPStatus(resp.StatusCode)
		if transientStatuses[resp.StatusCode] {
			return nil, retry.WrapTransient(httpErr.WithRetryable(true))
		}
		return nil, httpErr
	}

	// A wrong content type will not fix itself on retry.
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "pdf") {
		return nil, types.NewError(types.ErrToolValidation,
			fmt.Sprintf("content is not a PDF: %q", contentType))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.cfg.MaxBody))
	if err != nil {
		return nil, retry.WrapTransient(types.NewError(types.ErrUpstreamError, err.Error()).WithRetryable(true))
	}
	return data, nil
}

func (t *Tool) extract(rawURL string, data []byte) (*Result, error) {
	pages, err := t.extractor.Extract(data)
	if err != nil {
		return nil, types.NewError(types.ErrToolExecution, "text extraction failed").WithCause(err)
	}

	result := &Result{
		Status:         "success",
		URL:            rawURL,
		PagesProcessed: len(pages),
		Warnings:       []string{},
	}

	if len(pages) > MaxPages {
		pages = pages[:MaxPages]
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("only the first %d pages were processed", MaxPages))
	}

	content := strings.Join(pages, "\n")
	if cut, ok := truncateRunes(content, MaxContentLen); ok {
		content = cut
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("text truncated to %d characters", MaxContentLen))
	}
	result.Content = content

	t.logger.Debug("document extracted",
		zap.String("url", rawURL),
		zap.Int("pages", result.PagesProcessed),
		zap.Int("content_len", len(result.Content)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

// truncateRunes cuts s to at most max characters, never splitting a
// multi-byte rune. The second return reports whether anything was cut.
func truncateRunes(s string, max int) (string, bool) {
	if len(s) <= max {
		return s, false
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i], true
		}
		n++
	}
	return s, false
}
