package subagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Samrat2803/cognitive-core/internal/agent"
)

// HTTPClient is a thin JSON client shared by the outbound sub-agents. Retry
// policy lives in the Retrier; this client only classifies failures so the
// caller knows which ones are worth retrying.
type HTTPClient struct {
	client *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

// DoJSON issues a request and decodes a JSON response into out. Timeouts and
// upstream 429/5xx come back as TransientError; everything else is final.
func (c *HTTPClient) DoJSON(ctx context.Context, agentName, method, url string, headers map[string]string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &agent.TransientError{Agent: agentName, Err: err}
		}
		return &agent.InvocationError{Agent: agentName, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &agent.InvocationError{Agent: agentName, Err: err}
		}
		return nil
	}

	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := errors.New(resp.Status + ": " + string(b))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &agent.TransientError{Agent: agentName, Err: statusErr}
	}
	return &agent.InvocationError{Agent: agentName, Err: statusErr}
}

// Get fetches a URL and returns up to maxBytes of the body.
func (c *HTTPClient) Get(ctx context.Context, agentName, url, userAgent string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &agent.TransientError{Agent: agentName, Err: err}
		}
		return nil, &agent.InvocationError{Agent: agentName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, &agent.TransientError{Agent: agentName, Err: errors.New(resp.Status)}
	}
	if resp.StatusCode >= 300 {
		return nil, &agent.InvocationError{Agent: agentName, Err: errors.New(resp.Status)}
	}
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, &agent.InvocationError{Agent: agentName, Err: err}
	}
	return b, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
