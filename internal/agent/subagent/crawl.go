package subagent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// ChromedpCrawler implements Crawler with a headless browser, for pages whose
// content only exists after script execution.
type ChromedpCrawler struct {
	cfg config.FetchConfig
}

func NewChromedpCrawler(cfg config.FetchConfig) *ChromedpCrawler {
	return &ChromedpCrawler{cfg: cfg}
}

func (c *ChromedpCrawler) Crawl(ctx context.Context, pageURL string) (agent.Document, error) {
	if strings.TrimSpace(pageURL) == "" {
		return agent.Document{}, &agent.InvocationError{Agent: "crawl", Err: errors.New("invalid url")}
	}
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	html, err := c.fetchHTML(ctx, pageURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return agent.Document{}, &agent.TransientError{Agent: "crawl", Err: err}
		}
		return agent.Document{}, &agent.InvocationError{Agent: "crawl", Err: err}
	}
	return documentFromHTML("crawl", pageURL, []byte(html), c.cfg.MaxChars, true)
}

func (c *ChromedpCrawler) fetchHTML(ctx context.Context, pageURL string) (string, error) {
	ua := c.cfg.UserAgent
	if ua == "" {
		ua = "CognitiveCore/1.0"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}
