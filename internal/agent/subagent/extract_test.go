package subagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Samrat2803/cognitive-core/config"
	"github.com/Samrat2803/cognitive-core/internal/agent"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Carbon Tax Explained</title></head>
<body>
<article>
<h1>Carbon Tax Explained</h1>
<p>A carbon tax puts a price on each tonne of greenhouse gas emitted, with the
intent of shifting production and consumption toward lower-carbon options over
time. Revenue is typically recycled through rebates or used to fund
decarbonization programs across the economy.</p>
<p>Economists generally consider it one of the most cost-effective levers for
reducing emissions, though its distributional effects remain politically
contested in many jurisdictions around the world.</p>
</article>
</body>
</html>`

func TestExtractReadsArticleText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	e := NewReadabilityExtractor(config.FetchConfig{
		Timeout:  5 * time.Second,
		MaxChars: 10000,
	}, NewHTTPClient(5*time.Second))

	doc, err := e.Extract(context.Background(), agent.SearchResult{URL: srv.URL + "/story"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.URL != srv.URL+"/story" {
		t.Fatalf("doc url = %q", doc.URL)
	}
	if !strings.Contains(doc.Text, "price on each tonne") {
		t.Fatalf("article body not extracted: %q", doc.Text)
	}
	if doc.Rendered {
		t.Fatalf("static extraction must not mark the document rendered")
	}
}

func TestExtractClipsToMaxChars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	e := NewReadabilityExtractor(config.FetchConfig{
		Timeout:  5 * time.Second,
		MaxChars: 50,
	}, NewHTTPClient(5*time.Second))

	doc, err := e.Extract(context.Background(), agent.SearchResult{URL: srv.URL})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(doc.Text) > 50 {
		t.Fatalf("text length = %d, want clipped to 50", len(doc.Text))
	}
}

func TestExtractClassifiesServerErrorsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	e := NewReadabilityExtractor(config.FetchConfig{Timeout: 5 * time.Second}, NewHTTPClient(5*time.Second))
	_, err := e.Extract(context.Background(), agent.SearchResult{URL: srv.URL})
	if err == nil {
		t.Fatalf("expected error on 502")
	}
	if !agent.IsTransient(err) {
		t.Fatalf("502 should be transient, got %v", err)
	}
}

func TestExtractRejectsEmptyURL(t *testing.T) {
	e := NewReadabilityExtractor(config.FetchConfig{}, NewHTTPClient(time.Second))
	if _, err := e.Extract(context.Background(), agent.SearchResult{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
