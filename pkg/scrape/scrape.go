// Package scrape fetches a single web page and flattens it to plain text.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dyatlov/go-opengraph/opengraph"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	// DefaultTimeout bounds the single GET issued per fetch.
	DefaultTimeout = 10 * time.Second

	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "supportdesk/1.0 (+https://github.com/papercomputeco/supportdesk)"

	// DefaultMaxBodyBytes caps how much of a response body is read.
	DefaultMaxBodyBytes int64 = 8 << 20
)

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Document is the flattened text of one web page at one point in time.
type Document struct {
	URL         string    `json:"url"`
	FinalURL    string    `json:"final_url"`
	Status      int       `json:"status"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	SiteName    string    `json:"site_name,omitempty"`
	Text        string    `json:"text"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Fetcher retrieves pages with one GET request and no retries or caching.
type Fetcher struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config Config, logger *zap.Logger) *Fetcher {
	config = config.withDefaults()
	return &Fetcher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

// Timeout returns the per-request timeout.
func (f *Fetcher) Timeout() time.Duration {
	return f.config.Timeout
}

// Fetch issues a single GET to rawURL and returns the page's visible text.
// Any failure is returned as a *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	f.logger.Debug("fetching page",
		zap.String("url", target),
		zap.Duration("timeout", f.config.Timeout),
	)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("http %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	doc, err := Parse(body)
	if err != nil {
		return nil, &FetchError{URL: target, StatusCode: resp.StatusCode, Err: err}
	}

	doc.URL = target
	doc.FinalURL = target
	if resp.Request != nil && resp.Request.URL != nil {
		doc.FinalURL = resp.Request.URL.String()
	}
	doc.Status = resp.StatusCode
	doc.FetchedAt = time.Now().UTC()

	f.logger.Info("page fetched",
		zap.String("url", doc.FinalURL),
		zap.Int("status", doc.Status),
		zap.Int("text_length", len(doc.Text)),
		zap.String("title", doc.Title),
		zap.Duration("took", time.Since(start)),
	)

	return doc, nil
}

// Parse flattens an HTML body into a Document without URL or status fields.
func Parse(body []byte) (*Document, error) {
	page, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &Document{
		Title: strings.TrimSpace(page.Find("title").First().Text()),
		Text:  ExtractText(page),
	}

	og := opengraph.NewOpenGraph()
	if err := og.ProcessHTML(bytes.NewReader(body)); err == nil {
		if og.Title != "" {
			doc.Title = strings.TrimSpace(og.Title)
		}
		doc.Description = strings.TrimSpace(og.Description)
		doc.SiteName = strings.TrimSpace(og.SiteName)
	}
	if doc.Description == "" {
		if desc, ok := page.Find("meta[name='description']").First().Attr("content"); ok {
			doc.Description = strings.TrimSpace(desc)
		}
	}

	return doc, nil
}

// invisible elements never contribute text.
const invisible = "script, style, noscript, template, svg, iframe, object"

// ExtractText returns every visible text node of page in document order,
// whitespace-collapsed and joined by single spaces.
func ExtractText(page *goquery.Document) string {
	page.Find(invisible).Remove()

	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if fields := strings.Fields(n.Data); len(fields) > 0 {
				parts = append(parts, strings.Join(fields, " "))
			}
		case html.CommentNode, html.DoctypeNode:
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range page.Nodes {
		walk(n)
	}

	return strings.Join(parts, " ")
}

// NormalizeURL validates rawURL, prefixing "https://" when no scheme is given.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("url is empty")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url must use http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("url has no host")
	}
	return parsed.String(), nil
}
