package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vote-app-client/internal/metrics"
	"vote-app-client/internal/platform/apperr"
	"vote-app-client/internal/retry"
)

const maxErrorBody = 64 << 10

var machineCode = regexp.MustCompile(`^[a-z0-9_]+$`)

var log = zerolog.Nop()

func SetLogger(l zerolog.Logger) {
	log = l
}

// TokenSource supplies the bearer credential, empty when signed out.
type TokenSource interface {
	Token() string
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     TokenSource
	// OnUnauthorized is called when a non-auth endpoint answers 401.
	OnUnauthorized func()
	// RateLimit caps outgoing requests; zero means 20 per second.
	RateLimit rate.Limit
	Burst     int
	// GetAttempts is how often an idempotent read is tried on network
	// failure or 5xx. Zero means once; callers decide when to try again.
	GetAttempts int
	RetryDelay  time.Duration
}

// Client is the typed REST client of the voting service.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
	limiter        *rate.Limiter
	getAttempts    int
	retryDelay     time.Duration
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.GetAttempts <= 0 {
		cfg.GetAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           cfg.HTTPClient,
		tokens:         cfg.Tokens,
		onUnauthorized: cfg.OnUnauthorized,
		limiter:        rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		getAttempts:    cfg.GetAttempts,
		retryDelay:     cfg.RetryDelay,
	}
}

// validator is implemented by every response schema.
type validator interface {
	validate() error
}

type request struct {
	method string
	// route is the path template, used as the metrics label.
	route string
	path  string
	body  any
	out   validator
	// auth marks login and registration, whose 4xx are credential errors.
	auth bool
	// token overrides the TokenSource when set.
	token string
}

func (c *Client) do(ctx context.Context, req request) error {
	if req.method != http.MethodGet || c.getAttempts <= 1 {
		return c.once(ctx, req)
	}
	var last error
	err := retry.DoWithRetry(ctx, c.getAttempts, c.retryDelay, func() error {
		last = c.once(ctx, req)
		if last != nil && apperr.IsKind(last, apperr.KindTransport) && ctx.Err() == nil {
			return last
		}
		return nil
	})
	if last == nil && err != nil {
		return apperr.Transport("request cancelled", err)
	}
	return last
}

func (c *Client) once(ctx context.Context, req request) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Transport("request cancelled", err)
	}

	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return apperr.Internal("encode_failed", "could not encode request", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return apperr.Internal("bad_request", "could not build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	token := req.token
	if token == "" && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("method", req.method).Str("path", req.route).Msg("request failed")
		return apperr.Transport("Unable to reach the server", err)
	}
	defer resp.Body.Close()

	metrics.IncRequest(req.method, req.route, resp.StatusCode)
	log.Debug().
		Str("method", req.method).
		Str("path", req.route).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := decodeError(resp, req.auth)
		if resp.StatusCode == http.StatusUnauthorized && !req.auth && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return appErr
	}

	if req.out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(req.out); err != nil {
		return apperr.Transport("Malformed server response", err)
	}
	if err := req.out.validate(); err != nil {
		return apperr.Transport("Malformed server response", err)
	}
	return nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// decodeError turns a non-2xx response into an AppError. Servers put either
// a machine code or a human sentence into "error"; a sentence becomes the
// message.
func decodeError(resp *http.Response, auth bool) *apperr.AppError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	code, msg := eb.Error, eb.Message
	if msg == "" && code != "" && !machineCode.MatchString(code) {
		code, msg = "", eb.Error
	}
	if code == "" && msg != "" && strings.Contains(strings.ToLower(msg), "already voted") {
		code = apperr.CodeAlreadyVoted
	}
	return apperr.FromStatus(resp.StatusCode, code, msg, auth)
}

var errMissingField = errors.New("response is missing a required field")
