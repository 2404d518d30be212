// Package api is the typed request client for the Prizm server. The server
// is an opaque collaborator: this package only knows its HTTP surface and the
// SSE chat stream, and maps failures into *APIError values.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 5 * time.Minute

	// The panel is a single-user desktop client; the limiter only guards
	// against event-driven refresh storms, not multi-tenant fairness.
	defaultRateLimit = rate.Limit(20)
	defaultBurstSize = 40
)

// RetryConfig configures the retry mechanism for idempotent HTTP requests.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// DefaultTransport returns an http.Transport tuned for a long-lived client
// holding one streaming connection plus short aggregate fetches.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client is the Prizm server request client.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	retryConfig RetryConfig
}

// ClientOptions tweak client construction.
type ClientOptions struct {
	// RetryConfig is optional; if nil, default config is used
	RetryConfig *RetryConfig
	// HTTPClient overrides the built-in client; used by tests.
	HTTPClient *http.Client
}

// NewClient creates a new Prizm client for the given server base URL.
func NewClient(baseURL, apiKey string) *Client {
	return NewClientWithOptions(baseURL, apiKey, ClientOptions{})
}

func NewClientWithOptions(baseURL, apiKey string, opts ClientOptions) *Client {
	retryConfig := DefaultRetryConfig()
	if opts.RetryConfig != nil {
		retryConfig = *opts.RetryConfig
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   defaultTimeout,
			Transport: DefaultTransport(),
		}
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(defaultRateLimit, defaultBurstSize),
		retryConfig: retryConfig,
	}
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetTimeout updates the underlying HTTP client timeout (0 disables timeout).
func (c *Client) SetTimeout(timeout time.Duration) {
	if c.httpClient != nil {
		c.httpClient.Timeout = timeout
	}
}

// ExtractHostPort splits a server URL into host and port, stripping any
// protocol prefix. Servers listen on 4127 unless told otherwise.
func ExtractHostPort(serverURL string) (host, port string) {
	clean := serverURL
	for _, prefix := range []string{"http://", "https://", "ws://", "wss://"} {
		clean = strings.TrimPrefix(clean, prefix)
	}
	clean = strings.TrimRight(clean, "/")
	if idx := strings.LastIndexByte(clean, ':'); idx >= 0 {
		return clean[:idx], clean[idx+1:]
	}
	return clean, "4127"
}

// --- request plumbing ---

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("X-Prizm-Panel", "true")
}

func isIdempotentMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.Retryable
	}
	// Network errors are generally retryable
	return true
}

// calculateBackoff returns the delay before the next retry, exponential with
// jitter to avoid synchronized retries across aggregates.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.retryConfig.InitialInterval
	}

	delay := float64(c.retryConfig.InitialInterval)
	for i := 0; i < attempt; i++ {
		delay *= c.retryConfig.Multiplier
	}
	if delay > float64(c.retryConfig.MaxInterval) {
		delay = float64(c.retryConfig.MaxInterval)
	}

	jitter := time.Duration(rand.Float64() * delay * 0.5)
	return time.Duration(delay*0.75) + jitter
}

// doWithRetry executes a request, retrying idempotent methods on retryable
// failures. Non-idempotent requests (sendMessage, stop) go out exactly once.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if !isIdempotentMethod(req.Method) {
		return c.httpClient.Do(req)
	}

	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(c.calculateBackoff(attempt - 1)):
			}
		}

		reqClone := req.Clone(req.Context())
		if bodyBytes != nil {
			reqClone.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, err := c.httpClient.Do(reqClone)
		if err != nil {
			lastErr = err
			if attempt < c.retryConfig.MaxRetries {
				continue
			}
			break
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			apiErr := c.parseError(resp)
			resp.Body.Close()
			lastErr = apiErr
			if isRetryableError(apiErr) && attempt < c.retryConfig.MaxRetries {
				continue
			}
			return nil, apiErr
		}
		return resp, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.retryConfig.MaxRetries, lastErr)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return c.parseError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// parseError reads the server's error envelope into an APIError.
func (c *Client) parseError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			Retryable:  retryable,
		}
	}

	var errResp ErrorResponse
	message := resp.Status
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		message = errResp.Error
	} else if raw := strings.TrimSpace(string(body)); raw != "" {
		if len(raw) > 500 {
			raw = raw[:500] + "..."
		}
		message = fmt.Sprintf("%s (raw: %s)", resp.Status, raw)
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Retryable:  retryable,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		return time.Until(t)
	}
	return 0
}

func scopeQuery(scope string) url.Values {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	return q
}

// --- workspace data ---

// ListDocuments fetches the documents of a scope.
func (c *Client) ListDocuments(ctx context.Context, scope string) ([]Document, error) {
	var docs []Document
	if err := c.getJSON(ctx, "/api/documents", scopeQuery(scope), &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// GetDocument fetches a single document by id.
func (c *Client) GetDocument(ctx context.Context, id, scope string) (*Document, error) {
	var doc Document
	if err := c.getJSON(ctx, "/api/documents/"+url.PathEscape(id), scopeQuery(scope), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListClipboard fetches the shared clipboard entries of a scope.
func (c *Client) ListClipboard(ctx context.Context, scope string) ([]ClipboardItem, error) {
	var items []ClipboardItem
	if err := c.getJSON(ctx, "/api/clipboard", scopeQuery(scope), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetMemoryCounts fetches the aggregate count snapshot of a scope.
func (c *Client) GetMemoryCounts(ctx context.Context, scope string) (*MemoryCounts, error) {
	var counts MemoryCounts
	if err := c.getJSON(ctx, "/api/memory/counts", scopeQuery(scope), &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// ListNotes fetches the notes of a scope.
func (c *Client) ListNotes(ctx context.Context, scope string) ([]Note, error) {
	var notes []Note
	if err := c.getJSON(ctx, "/api/notes", scopeQuery(scope), &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// GetNote fetches a single note by id.
func (c *Client) GetNote(ctx context.Context, id, scope string) (*Note, error) {
	var note Note
	if err := c.getJSON(ctx, "/api/notes/"+url.PathEscape(id), scopeQuery(scope), &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// GetTodoList fetches the scope's todo list.
func (c *Client) GetTodoList(ctx context.Context, scope string) (*TodoList, error) {
	var list TodoList
	if err := c.getJSON(ctx, "/api/todo", scopeQuery(scope), &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// --- agent sessions ---

// ListAgentSessions fetches the session index of a scope. Messages are not
// populated; load a session to get them.
func (c *Client) ListAgentSessions(ctx context.Context, scope string) ([]Session, error) {
	var sessions []Session
	if err := c.getJSON(ctx, "/api/agent/sessions", scopeQuery(scope), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetAgentSession loads one session including its messages.
func (c *Client) GetAgentSession(ctx context.Context, id, scope string) (*Session, error) {
	var session Session
	if err := c.getJSON(ctx, "/api/agent/sessions/"+url.PathEscape(id), scopeQuery(scope), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateAgentSession creates a fresh session in the scope.
func (c *Client) CreateAgentSession(ctx context.Context, scope string) (*Session, error) {
	var session Session
	if err := c.sendJSON(ctx, http.MethodPost, "/api/agent/sessions", scopeQuery(scope), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateAgentSession applies a partial update to a session record.
func (c *Client) UpdateAgentSession(ctx context.Context, id string, patch SessionPatch, scope string) (*Session, error) {
	var session Session
	if err := c.sendJSON(ctx, http.MethodPatch, "/api/agent/sessions/"+url.PathEscape(id), scopeQuery(scope), patch, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// AppendSessionMessages appends confirmed messages to the durable session
// record once a stream completes or is stopped with partial content.
func (c *Client) AppendSessionMessages(ctx context.Context, id string, messages []Message, scope string) error {
	body := struct {
		Messages []Message `json:"messages"`
	}{Messages: messages}
	return c.sendJSON(ctx, http.MethodPost, "/api/agent/sessions/"+url.PathEscape(id)+"/messages", scopeQuery(scope), body, nil)
}

// StopAgentChat asks the server to stop generating for a session. Callers
// treat failures as best-effort; the server may have already finished.
func (c *Client) StopAgentChat(ctx context.Context, sessionID, scope string) error {
	return c.sendJSON(ctx, http.MethodPost, "/api/agent/sessions/"+url.PathEscape(sessionID)+"/stop", scopeQuery(scope), nil, nil)
}

// StreamChat sends a user message and consumes the server's SSE response
// stream, invoking onChunk for every decoded chunk until the stream ends,
// the [DONE] sentinel arrives, or ctx is cancelled. Cancellation surfaces as
// ctx.Err(); everything else is a stream error.
func (c *Client) StreamChat(ctx context.Context, sessionID, content, scope string, onChunk ChunkHandler) error {
	body := struct {
		Content string `json:"content"`
		Scope   string `json:"scope,omitempty"`
	}{Content: content, Scope: scope}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/agent/sessions/"+url.PathEscape(sessionID)+"/stream", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseError(resp)
	}

	return c.parseSSEStream(ctx, resp.Body, onChunk)
}

// parseSSEStream decodes data: lines into StreamChunks. A nil error means the
// stream ended cleanly (either via [DONE] or EOF after a done chunk).
func (c *Client) parseSSEStream(ctx context.Context, r io.Reader, onChunk ChunkHandler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decoding chunk: %w", err)
		}
		if onChunk != nil {
			onChunk(chunk)
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

// --- registration / connectivity (panel onboarding) ---

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.getJSON(ctx, "/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// TestConnection reports whether the server answers its health check.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	health, err := c.Health(ctx)
	if err != nil {
		return false, err
	}
	return health.Status == "ok", nil
}

// Register performs the panel registration handshake: health probe first,
// then POST /auth/register for a client id and API key.
func (c *Client) Register(ctx context.Context, name string, requestedScopes []string) (*RegisterResponse, error) {
	ok, err := c.TestConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("server health check failed")
	}

	var grant RegisterResponse
	req := RegisterRequest{Name: name, RequestedScopes: requestedScopes}
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/register", nil, req, &grant); err != nil {
		return nil, err
	}

	c.apiKey = grant.APIKey
	return &grant, nil
}
