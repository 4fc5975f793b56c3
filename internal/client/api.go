package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/protocol"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBytes   = 4 << 20
)

var (
	// ErrSessionNotFound indicates that the server knows no such session.
	ErrSessionNotFound = errors.New("client: session not found")
	// ErrInvalidSecret indicates a secret the server refused as malformed.
	ErrInvalidSecret = errors.New("client: admin secret must be 4-6 digits")
	// ErrUnexpectedStatus indicates a response status the client does not handle.
	ErrUnexpectedStatus = errors.New("client: unexpected response status")
)

// API talks to the session server over plain HTTP.
type API struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewAPI binds an API to the server root, e.g. http://localhost:8080.
func NewAPI(baseURL string, httpClient *http.Client) (*API, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("client: base url must be http or https, got %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &API{baseURL: parsed, httpClient: httpClient}, nil
}

// ChannelURL is the websocket endpoint of the session channel.
func (a *API) ChannelURL() string {
	channel := *a.baseURL
	if channel.Scheme == "https" {
		channel.Scheme = "wss"
	} else {
		channel.Scheme = "ws"
	}
	channel.Path = strings.TrimRight(channel.Path, "/") + "/ws"
	return channel.String()
}

// CreateSession asks the server for a new session guarded by adminSecret.
func (a *API) CreateSession(ctx context.Context, adminSecret string) (string, error) {
	if err := bill.ValidateAdminSecret(adminSecret); err != nil {
		return "", ErrInvalidSecret
	}
	body, err := json.Marshal(map[string]string{"adminPin": adminSecret})
	if err != nil {
		return "", err
	}
	var response struct {
		SessionID string `json:"sessionId"`
	}
	status, err := a.do(ctx, http.MethodPost, "/api/create-session", "application/json", bytes.NewReader(body), &response)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return response.SessionID, nil
	case http.StatusBadRequest:
		return "", ErrInvalidSecret
	default:
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
}

// FetchSession loads the current session state.
func (a *API) FetchSession(ctx context.Context, sessionID string) (bill.Session, error) {
	var payload protocol.SessionPayload
	status, err := a.do(ctx, http.MethodGet, "/api/session/"+url.PathEscape(sessionID), "", nil, &payload)
	if err != nil {
		return bill.Session{}, err
	}
	switch status {
	case http.StatusOK:
		return payload.Session(), nil
	case http.StatusNotFound:
		return bill.Session{}, ErrSessionNotFound
	default:
		return bill.Session{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
}

// VerifySecret reports whether the server accepts adminSecret for the session.
func (a *API) VerifySecret(ctx context.Context, sessionID, adminSecret string) (bool, error) {
	body, err := json.Marshal(map[string]string{"pin": adminSecret})
	if err != nil {
		return false, err
	}
	path := "/api/session/" + url.PathEscape(sessionID) + "/verify"
	status, err := a.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized:
		return false, nil
	case http.StatusNotFound:
		return false, ErrSessionNotFound
	default:
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
}

// ParseReceipt uploads a receipt image and returns the extracted items.
func (a *API) ParseReceipt(ctx context.Context, filename string, image []byte) ([]bill.Item, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("receipt", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	status, err := a.do(ctx, http.MethodPost, "/api/parse-receipt", writer.FormDataContentType(), &body, &raw)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status)
	}
	return bill.DecodeItems(raw)
}

func (a *API) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) (int, error) {
	endpoint := *a.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return 0, err
	}
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	request.Header.Set("Accept", "application/json")

	response, err := a.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return response.StatusCode, fmt.Errorf("client: read %s response: %w", path, err)
	}
	if response.StatusCode == http.StatusOK && out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return response.StatusCode, fmt.Errorf("client: decode %s response: %w", path, err)
		}
	}
	return response.StatusCode, nil
}
