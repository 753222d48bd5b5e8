package fetch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// MinContentLength is the extracted-text length below which a plain
// HTTP fetch is treated as a client-rendered page.
const MinContentLength = 500

// ShouldUseBrowser reports whether the extracted text is too thin to
// use, suggesting the page renders its content with JavaScript.
func ShouldUseBrowser(extractedText string) bool {
	return len(strings.TrimSpace(extractedText)) < MinContentLength
}

// WithBrowser renders the page in headless Chrome and returns the
// resulting HTML. Needs Chrome or Chromium on the host.
func WithBrowser(ctx context.Context, url string, timeout time.Duration, verbose bool) (string, error) {
	if verbose {
		log.Printf("[BROWSER] rendering %s", url)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		// Give client-side rendering a moment to fill the page.
		chromedp.Sleep(3*time.Second),
		chromedp.ActionFunc(func(ctx context.Context) error {
			// Dismiss cookie banners when present; ignore failures.
			_ = chromedp.Click(`button[id*="accept"], button[class*="accept"], button:contains("OK"), button:contains("Accept")`, chromedp.NodeVisible).Do(ctx)
			return nil
		}),
		chromedp.Sleep(1*time.Second),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	if verbose {
		log.Printf("[BROWSER] rendered %d bytes for %s", len(html), url)
	}
	return html, nil
}
