package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/casechat/internal/protocol"
)

// API is the REST side of the gateway. It satisfies HistoryFetcher.
type API struct {
	base  string
	token string
	http  *http.Client
}

// APIError is a failed REST call.
type APIError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Msg)
}

// NewAPI creates a REST client for the gateway at baseURL.
func NewAPI(baseURL, token string) *API {
	base := strings.TrimRight(baseURL, "/")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)
	return &API{base: base, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// History returns messages of caseID after sinceID.
func (a *API) History(ctx context.Context, caseID, sinceID int64) ([]protocol.Message, error) {
	q := url.Values{}
	if sinceID > 0 {
		q.Set("since_id", strconv.FormatInt(sinceID, 10))
	}
	var out struct {
		Messages []protocol.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/cases/%d/messages", caseID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Cases lists the caller's cases with unread counts.
func (a *API) Cases(ctx context.Context) ([]protocol.CaseSummary, error) {
	var out struct {
		Cases []protocol.CaseSummary `json:"cases"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/cases", nil, &out); err != nil {
		return nil, err
	}
	return out.Cases, nil
}

// DirectChat returns the case shared with counterpartyID, creating it if
// needed.
func (a *API) DirectChat(ctx context.Context, counterpartyID, title string) (int64, bool, error) {
	req := map[string]string{"counterparty_id": counterpartyID, "title": title}
	var out struct {
		CaseID  int64 `json:"case_id"`
		Created bool  `json:"created"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/direct-chat", req, &out); err != nil {
		return 0, false, err
	}
	return out.CaseID, out.Created, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
