package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"blakv.app/support/common/id"
	"blakv.app/support/internal/model"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrClosed       = errors.New("ticket is closed")
)

// APIError carries a non-2xx response that maps to no sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// API is a typed client for the ticket HTTP surface. Identity travels in the
// X-User-ID header, plus X-User-Signature when the server checks one.
type API struct {
	httpClient *http.Client
	baseURL    string
	userID     string
	signature  string
}

type APIOption func(*API)

func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) { a.httpClient = c }
}

// WithSignature sets the precomputed HMAC of the user id.
func WithSignature(sig string) APIOption {
	return func(a *API) { a.signature = sig }
}

func NewAPI(baseURL string, userID int64, opts ...APIOption) *API {
	a := &API{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     id.Format(userID),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type ticketList struct {
	Count   int            `json:"count"`
	Tickets []model.Ticket `json:"tickets"`
}

func (a *API) Me(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := a.do(ctx, http.MethodGet, "/api/v1/users/me", nil, &user); err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return &user, nil
}

func (a *API) CreateTicket(ctx context.Context, subject, message string) (*model.Ticket, error) {
	body := map[string]string{"subject": subject, "message": message}
	var t model.Ticket
	if err := a.do(ctx, http.MethodPost, "/api/v1/tickets", body, &t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return &t, nil
}

// MyTickets lists the caller's own tickets, newest first.
func (a *API) MyTickets(ctx context.Context) ([]model.Ticket, error) {
	var out ticketList
	if err := a.do(ctx, http.MethodGet, "/api/v1/tickets", nil, &out); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return out.Tickets, nil
}

// AllTickets lists every ticket. Agents only.
func (a *API) AllTickets(ctx context.Context) ([]model.Ticket, error) {
	var out ticketList
	if err := a.do(ctx, http.MethodGet, "/api/v1/tickets/all", nil, &out); err != nil {
		return nil, fmt.Errorf("list all tickets: %w", err)
	}
	return out.Tickets, nil
}

func (a *API) Ticket(ctx context.Context, ticketID int64) (*model.Ticket, error) {
	var t model.Ticket
	if err := a.do(ctx, http.MethodGet, "/api/v1/tickets/"+id.Format(ticketID), nil, &t); err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", ticketID, err)
	}
	return &t, nil
}

func (a *API) AppendMessage(ctx context.Context, ticketID int64, content string) (*model.Ticket, error) {
	body := map[string]string{"message": content}
	var t model.Ticket
	if err := a.do(ctx, http.MethodPost, "/api/v1/tickets/"+id.Format(ticketID)+"/messages", body, &t); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &t, nil
}

func (a *API) UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) (*model.Ticket, error) {
	body := map[string]model.TicketStatus{"status": status}
	var t model.Ticket
	if err := a.do(ctx, http.MethodPut, "/api/v1/tickets/"+id.Format(ticketID)+"/status", body, &t); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return &t, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.identify(req.Header)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Header returns the identity headers, for the realtime handshake.
func (a *API) Header() http.Header {
	h := http.Header{}
	a.identify(h)
	return h
}

func (a *API) identify(h http.Header) {
	h.Set("X-User-ID", a.userID)
	if a.signature != "" {
		h.Set("X-User-Signature", a.signature)
	}
}

func responseError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, body.Error)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, body.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, body.Error)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrClosed, body.Error)
	}
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}
