package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
)

// Header names carrying the authenticated session to the sync server.
const (
	HeaderUserID  = "X-User-ID"
	HeaderSpaceID = "X-Space-ID"
)

// Transport moves push and pull requests to the sync server.
type Transport interface {
	Push(ctx context.Context, req *model.PushRequest) (*model.PushResponse, error)
	Pull(ctx context.Context, req *model.PullRequest) (*model.PullResponse, error)
}

// HTTPTransport talks to the sync server over its JSON HTTP API.
type HTTPTransport struct {
	baseURL      string
	session      model.Session
	http         *http.Client
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewHTTPTransport creates a transport for the server in cfg. A nil
// httpClient gets one with the configured request timeout.
func NewHTTPTransport(cfg *Config, httpClient *http.Client, logger *zap.Logger) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &HTTPTransport{
		baseURL:      strings.TrimRight(cfg.ServerURL, "/"),
		session:      model.Session{UserID: cfg.UserID, SpaceID: cfg.SpaceID},
		http:         httpClient,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}
}

// Push sends a batch of mutations.
func (t *HTTPTransport) Push(ctx context.Context, req *model.PushRequest) (*model.PushResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	var resp model.PushResponse
	err = t.withRetry(ctx, "push", func() error {
		return t.do(ctx, http.MethodPost, t.baseURL+"/sync/push", body, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pull fetches one page of changes.
func (t *HTTPTransport) Pull(ctx context.Context, req *model.PullRequest) (*model.PullResponse, error) {
	q := url.Values{}
	q.Set("client_group_id", req.ClientGroupID)
	q.Set("space_id", req.SpaceID)
	for _, id := range req.SubspaceIDs {
		q.Add("subspace_id", id)
	}
	q.Set("since_version", strconv.FormatInt(req.SinceVersion, 10))
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	var resp model.PullResponse
	err := t.withRetry(ctx, "pull", func() error {
		return t.do(ctx, http.MethodGet, t.baseURL+"/sync/pull?"+q.Encode(), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *HTTPTransport) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderUserID, t.session.UserID)
	req.Header.Set(HeaderSpaceID, t.session.SpaceID)

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope errors.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			envelope.Message = http.StatusText(resp.StatusCode)
		}
		return errors.FromResponse(resp.StatusCode, envelope)
	}

	if err := model.DecodeJSONFrom(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// withRetry retries transient failures with exponential backoff.
func (t *HTTPTransport) withRetry(ctx context.Context, op string, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := t.retryBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(ctx, err) {
			return err
		}

		t.logger.Warn("sync request failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return lastErr
}

// isRetryable reports whether err is worth another attempt: transport
// failures and server-side unavailability are, application errors are not.
func isRetryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var se *errors.SyncError
	if stderrors.As(err, &se) {
		return se.Code == errors.ErrCodeUnavailable || se.Code == errors.ErrCodeRateLimited
	}
	return true
}
