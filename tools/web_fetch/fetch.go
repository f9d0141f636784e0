package web_fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	readability "github.com/go-shiori/go-readability"
)

// Fetch renders a page in headless Chrome and extracts the readable text.
// Pages behind client-side rendering need the browser pass; readability then
// strips chrome and navigation down to article text.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
}

type Result struct {
	URL      string
	Title    string
	Text     string
	RenderMS int64
}

func New(timeout time.Duration, maxChars int) *Fetch {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetch{Timeout: timeout, MaxChars: maxChars}
}

func (f *Fetch) Exec(ctx context.Context, pageURL string) (Result, error) {
	start := time.Now()

	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{}, fmt.Errorf("web_fetch: invalid url %q", pageURL)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, f.Timeout)
	defer cancelRun()

	var html string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return Result{}, fmt.Errorf("web_fetch: render %s: %w", pageURL, err)
	}

	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return Result{}, fmt.Errorf("web_fetch: extract %s: %w", pageURL, err)
	}

	text := strings.TrimSpace(article.TextContent)
	if f.MaxChars > 0 && len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	return Result{
		URL:      pageURL,
		Title:    article.Title,
		Text:     text,
		RenderMS: time.Since(start).Milliseconds(),
	}, nil
}
