// Package ticketsvc implements the authenticated REST client to the
// external ticketing platform (spec §4.C), grounded on the original
// SplynxServicesSingleton (splynx_services_singleton.py). The singleton
// and its double-checked-locking constructor are replaced with an
// explicit dependency-injected *Client per spec §9's design note; the
// thread-safe token refresh and single-retry-on-401 behavior are kept.
package ticketsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rhernandezbas/splynx-tickets/internal/httpkit"
)

// ErrorKind enumerates the RemoteError taxonomy (spec §4.C, §7).
type ErrorKind string

const (
	ErrAuthExpired ErrorKind = "AuthExpired"
	ErrNotFound    ErrorKind = "NotFound"
	ErrTransport   ErrorKind = "Transport"
	ErrProtocol    ErrorKind = "Protocol"
)

// RemoteError wraps every failure mode this client can return.
type RemoteError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ticketsvc %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("ticketsvc %s: %s", e.Op, e.Kind)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Ticket is the wire shape returned by get_ticket/list_unassigned/list_assigned
// (spec §4.C). Splynx may return assign_to as either "assign_to" or
// "assigned_to"; AssignTo() normalizes both.
type Ticket struct {
	ID         string `json:"id"`
	Closed     string `json:"closed"`
	StatusID   string `json:"status_id"`
	UpdatedAt  string `json:"updated_at"`
	CreatedAt  string `json:"created_at"`
	Subject    string `json:"subject"`
	CustomerID string `json:"customer_id"`
	Priority   string `json:"priority"`
	GroupID    string `json:"group_id"`

	AssignToField   *flexString `json:"assign_to,omitempty"`
	AssignedToField *flexString `json:"assigned_to,omitempty"`
}

// IsClosed reports whether the ticket is closed in TicketSvc.
func (t Ticket) IsClosed() bool { return t.Closed == "1" }

// AssignTo returns the assignee id, tolerating either wire field name and
// the "0"/0 unassigned sentinel (spec §4.C, §4.H).
func (t Ticket) AssignTo() string {
	if t.AssignToField != nil && string(*t.AssignToField) != "" {
		return string(*t.AssignToField)
	}
	if t.AssignedToField != nil {
		return string(*t.AssignedToField)
	}
	return ""
}

// flexString accepts either a JSON string or number for fields Splynx
// sometimes encodes inconsistently (assign_to as 0 vs "0").
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) >= 2 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// Client is the TicketSvc contract every worker depends on.
type Client interface {
	GetTicket(ctx context.Context, id string) (*Ticket, error)
	ListUnassigned(ctx context.Context, groupID string) ([]Ticket, error)
	ListAssigned(ctx context.Context, groupID string) ([]Ticket, error)
	CreateTicket(ctx context.Context, in CreateTicketInput) (*Ticket, error)
	UpdateAssignment(ctx context.Context, ticketID string, assignTo int64) error
	ReopenTicket(ctx context.Context, ticketID string) error
}

// CreateTicketInput is the payload for create_ticket (spec §4.C).
type CreateTicketInput struct {
	CustomerID string
	Subject    string
	Note       string
	CreatedAt  string
	Priority   string
	StatusID   string
	GroupID    string
	TypeID     string
	AssignTo   int64
}

// client is the production Client.
type client struct {
	baseURL  string
	user     string
	password string

	httpc *http.Client
	cb    *gobreaker.CircuitBreaker
	log   *slog.Logger

	mu    sync.Mutex
	token string
}

// Option configures a Client built by New.
type Option func(*client)

// WithLogger attaches a logger used for token-refresh and retry diagnostics.
func WithLogger(l *slog.Logger) Option { return func(c *client) { c.log = l } }

// WithInsecureSkipVerify disables TLS verification, mirroring
// SPLYNX_SSL_VERIFY=false in the original.
func WithInsecureSkipVerify() Option {
	return func(c *client) {
		c.httpc = httpkit.NewClient(httpkit.WithTimeout(30*time.Second), httpkit.WithTLSInsecureSkipVerify())
	}
}

// New builds a TicketSvc client. baseURL, user and password correspond to
// SPLYNX_BASE_URL/SPLYNX_USER/SPLYNX_PASSWORD (spec §6).
func New(baseURL, user, password string, opts ...Option) Client {
	c := &client{
		baseURL:  baseURL,
		user:     user,
		password: password,
		httpc:    httpkit.NewClient(httpkit.WithTimeout(30 * time.Second)),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ticketsvc",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})
	return c
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// login posts credentials and returns a bearer token (spec §4.C).
func (c *client) login(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"auth_type": "admin",
		"login":     c.user,
		"password":  c.password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/2.0/admin/auth/tokens", bytes.NewReader(body))
	if err != nil {
		return "", &RemoteError{Kind: ErrTransport, Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", &RemoteError{Kind: ErrTransport, Op: "login", Err: err}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode >= 300 {
		return "", &RemoteError{Kind: ErrProtocol, Op: "login", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &RemoteError{Kind: ErrProtocol, Op: "login", Err: err}
	}
	return out.AccessToken, nil
}

func (c *client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	tok, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	return tok, nil
}

func (c *client) refreshToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	c.log.Warn("ticketsvc token refreshed after 401")
	return tok, nil
}

// do performs req, transparently refreshing the token and retrying once
// on a 401 response (spec §4.C).
func (c *client) do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	send := func(tok string) (*http.Response, error) {
		req.Header.Set("Authorization", fmt.Sprintf("Splynx-EA (access_token=%s)", tok))
		result, err := c.cb.Execute(func() (interface{}, error) {
			r := req.Clone(ctx)
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
			return c.httpc.Do(r)
		})
		if err != nil {
			return nil, err
		}
		return result.(*http.Response), nil
	}

	resp, err := send(token)
	if err != nil {
		return nil, &RemoteError{Kind: ErrTransport, Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		httpkit.DrainAndClose(resp.Body, 1024)
		newTok, refreshErr := c.refreshToken(ctx)
		if refreshErr != nil {
			return nil, refreshErr
		}
		resp, err = send(newTok)
		if err != nil {
			return nil, &RemoteError{Kind: ErrTransport, Op: op, Err: err}
		}
		if resp.StatusCode == http.StatusUnauthorized {
			httpkit.DrainAndClose(resp.Body, 1024)
			return nil, &RemoteError{Kind: ErrAuthExpired, Op: op, Err: fmt.Errorf("401 after token refresh")}
		}
	}

	return resp, nil
}

// acceptableStatus reports whether a response status should be treated
// as success, per spec §4.C ("Accepts HTTP 200/201/202/204 as success").
func acceptableStatus(code int) bool {
	switch code {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return true
	default:
		return false
	}
}

func (c *client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/2.0/admin/support/tickets/%s", c.baseURL, url.PathEscape(id)), nil)
	if err != nil {
		return nil, &RemoteError{Kind: ErrTransport, Op: "get_ticket", Err: err}
	}

	resp, err := c.do(ctx, "get_ticket", req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 65536)

	if resp.StatusCode == http.StatusNotFound {
		return nil, &RemoteError{Kind: ErrNotFound, Op: "get_ticket"}
	}
	if !acceptableStatus(resp.StatusCode) {
		return nil, &RemoteError{Kind: ErrProtocol, Op: "get_ticket", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var t Ticket
	body, _ := io.ReadAll(resp.Body)
	if len(body) == 0 {
		return &t, nil
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, &RemoteError{Kind: ErrProtocol, Op: "get_ticket", Err: err}
	}
	return &t, nil
}

func (c *client) listTickets(ctx context.Context, op, groupID string, keep func(Ticket) bool) ([]Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/2.0/admin/support/tickets?group_id=%s", c.baseURL, url.QueryEscape(groupID)), nil)
	if err != nil {
		return nil, &RemoteError{Kind: ErrTransport, Op: op, Err: err}
	}

	resp, err := c.do(ctx, op, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if !acceptableStatus(resp.StatusCode) {
		return nil, &RemoteError{Kind: ErrProtocol, Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var all []Ticket
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, &RemoteError{Kind: ErrProtocol, Op: op, Err: err}
	}

	filtered := make([]Ticket, 0, len(all))
	for _, t := range all {
		if t.GroupID == groupID && keep(t) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// ListUnassigned returns open tickets with assign_to in {0, "0"} (spec §4.C).
func (c *client) ListUnassigned(ctx context.Context, groupID string) ([]Ticket, error) {
	return c.listTickets(ctx, "list_unassigned", groupID, func(t Ticket) bool {
		assign := t.AssignTo()
		return !t.IsClosed() && (assign == "" || assign == "0")
	})
}

// ListAssigned returns open tickets with a non-zero assignee (spec §4.C).
func (c *client) ListAssigned(ctx context.Context, groupID string) ([]Ticket, error) {
	return c.listTickets(ctx, "list_assigned", groupID, func(t Ticket) bool {
		assign := t.AssignTo()
		return !t.IsClosed() && assign != "" && assign != "0"
	})
}

func (c *client) CreateTicket(ctx context.Context, in CreateTicketInput) (*Ticket, error) {
	form := url.Values{}
	form.Set("customer_id", in.CustomerID)
	form.Set("reporter_type", "customer")
	form.Set("hidden", "false")
	form.Set("assign_to", strconv.FormatInt(in.AssignTo, 10))
	form.Set("status_id", defaultStr(in.StatusID, "1"))
	form.Set("group_id", defaultStr(in.GroupID, "4"))
	form.Set("type_id", defaultStr(in.TypeID, "10"))
	form.Set("subject", in.Subject)
	form.Set("priority", defaultStr(in.Priority, "medium"))
	form.Set("created_at", in.CreatedAt)
	form.Set("updated_at", in.CreatedAt)
	form.Set("note", in.Note)
	form.Set("closed", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/2.0/admin/support/tickets", bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, &RemoteError{Kind: ErrTransport, Op: "create_ticket", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, "create_ticket", req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(resp.Body, 65536)

	if !acceptableStatus(resp.StatusCode) {
		return nil, &RemoteError{Kind: ErrProtocol, Op: "create_ticket", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	body, _ := io.ReadAll(resp.Body)
	var t Ticket
	if len(body) > 0 {
		_ = json.Unmarshal(body, &t)
	}
	return &t, nil
}

func (c *client) UpdateAssignment(ctx context.Context, ticketID string, assignTo int64) error {
	form := url.Values{}
	form.Set("assign_to", strconv.FormatInt(assignTo, 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/api/2.0/admin/support/tickets/%s", c.baseURL, url.PathEscape(ticketID)),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return &RemoteError{Kind: ErrTransport, Op: "update_assignment", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, "update_assignment", req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if !acceptableStatus(resp.StatusCode) {
		return &RemoteError{Kind: ErrProtocol, Op: "update_assignment", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

// ReopenTicket sets closed=0, status_id=1 (spec §4.C).
func (c *client) ReopenTicket(ctx context.Context, ticketID string) error {
	form := url.Values{}
	form.Set("closed", "0")
	form.Set("status_id", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf("%s/api/2.0/admin/support/tickets/%s", c.baseURL, url.PathEscape(ticketID)),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return &RemoteError{Kind: ErrTransport, Op: "reopen_ticket", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(ctx, "reopen_ticket", req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if !acceptableStatus(resp.StatusCode) {
		return &RemoteError{Kind: ErrProtocol, Op: "reopen_ticket", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return nil
}

func defaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
