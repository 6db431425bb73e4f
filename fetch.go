package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	// Source types reported in fetched page content
	SourceTypeArticle = "article"
	SourceTypeVideo   = "youtube"

	// HTTP timeout for each fetch
	fetchTimeout = 30 * time.Second

	// Upper bound on extracted text, keeps prompts within model context
	maxContentChars = 12000

	// User agent for HTTP requests
	fetchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// ErrUnsupportedURL reports a URL whose content cannot be extracted, such
// as video pages that have no article body.
var ErrUnsupportedURL = errors.New("video URLs are not supported for content extraction")

// youtubePatterns match the usual YouTube URL shapes, including shorts,
// live streams and the mobile site.
var youtubePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)youtube\.com/watch`),
	regexp.MustCompile(`(?i)youtu\.be/`),
	regexp.MustCompile(`(?i)youtube\.com/shorts/`),
	regexp.MustCompile(`(?i)youtube\.com/live/`),
	regexp.MustCompile(`(?i)m\.youtube\.com/watch`),
}

// DetectURLType classifies a URL as a video or an article.
func DetectURLType(rawURL string) string {
	for _, pattern := range youtubePatterns {
		if pattern.MatchString(rawURL) {
			return SourceTypeVideo
		}
	}
	return SourceTypeArticle
}

// ContentFetcher retrieves readable text from a URL.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*PageContent, error)
}

// ArticleFetcher downloads web pages and extracts their readable text,
// caching results so repeated fetches of the same URL stay cheap.
type ArticleFetcher struct {
	client *http.Client
	cache  *pageCache
	logger *zap.Logger
}

// NewArticleFetcher creates a fetcher whose results are cached for cacheTTL.
func NewArticleFetcher(cacheTTL time.Duration, logger *zap.Logger) *ArticleFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleFetcher{
		client: &http.Client{Timeout: fetchTimeout},
		cache:  newPageCache(cacheTTL),
		logger: logger.With(zap.String("component", "fetcher")),
	}
}

// Fetch downloads the page at rawURL and extracts its readable text. Video
// URLs are rejected with ErrUnsupportedURL; everything else is treated as
// an article.
func (f *ArticleFetcher) Fetch(ctx context.Context, rawURL string) (*PageContent, error) {
	if DetectURLType(rawURL) == SourceTypeVideo {
		return nil, ErrUnsupportedURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}

	if cached, ok := f.cache.Get(rawURL); ok {
		f.logger.Debug("cache hit", zap.String("url", rawURL))
		return &cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "" && !strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("unsupported content type %q", contentType)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	content := extractReadableText(doc)
	if content == "" {
		return nil, fmt.Errorf("no readable content found at %s", rawURL)
	}
	if len(content) > maxContentChars {
		content = content[:maxContentChars]
	}

	page := PageContent{
		URL:        rawURL,
		SourceType: SourceTypeArticle,
		Title:      title,
		Content:    content,
		FetchedAt:  time.Now().UTC(),
	}
	f.cache.Set(rawURL, page)

	f.logger.Info("fetched article",
		zap.String("url", rawURL), zap.Int("chars", len(content)))

	return &page, nil
}

// extractReadableText pulls headline, paragraph and list text out of the
// document, preferring an article or main element over the full body.
func extractReadableText(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	scope := doc.Find("article, main").First()
	if scope.Length() == 0 {
		scope = doc.Find("body")
	}

	var parts []string
	scope.Find("h1, h2, h3, p, li").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})

	return strings.Join(parts, "\n\n")
}
