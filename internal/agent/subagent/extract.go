package subagent

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/go-shiori/go-readability"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// ReadabilityExtractor implements Extractor: plain HTTP fetch plus readability
// content extraction. Pages that need script execution come back thin; the
// extraction node escalates those to the Crawler.
type ReadabilityExtractor struct {
	cfg  config.FetchConfig
	http *HTTPClient
}

func NewReadabilityExtractor(cfg config.FetchConfig, httpc *HTTPClient) *ReadabilityExtractor {
	return &ReadabilityExtractor{cfg: cfg, http: httpc}
}

func (e *ReadabilityExtractor) Extract(ctx context.Context, r agent.SearchResult) (agent.Document, error) {
	if strings.TrimSpace(r.URL) == "" {
		return agent.Document{}, &agent.InvocationError{Agent: "extract", Err: errors.New("empty url")}
	}
	raw, err := e.http.Get(ctx, "extract", r.URL, e.cfg.UserAgent, 2<<20)
	if err != nil {
		return agent.Document{}, err
	}
	return documentFromHTML("extract", r.URL, raw, e.cfg.MaxChars, false)
}

// documentFromHTML runs readability over raw HTML and clips the text.
func documentFromHTML(agentName, pageURL string, raw []byte, maxChars int, rendered bool) (agent.Document, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), mustParseURL(pageURL))
	if err != nil {
		return agent.Document{}, &agent.InvocationError{Agent: agentName, Err: err}
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 && len(text) > maxChars {
		text = text[:maxChars]
	}
	return agent.Document{
		URL:      pageURL,
		Title:    strings.TrimSpace(article.Title),
		Text:     text,
		Rendered: rendered,
	}, nil
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
