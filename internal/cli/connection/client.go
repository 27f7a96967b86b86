package connection

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/server/adminserver"
)

// Client is a typed meshd admin client. Errors carrying a mesh error code
// are decoded back into domain errors.
type Client struct {
	admin   *adminv1.AdminServiceClient
	http    *http.Client
	baseURL string
}

// NewClient creates a client for server. token may be empty.
func NewClient(server, token string, timeout time.Duration) (*Client, error) {
	hc, baseURL, err := NewHTTPClient(server, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		admin: adminv1.NewAdminServiceClient(hc, baseURL,
			connect.WithInterceptors(adminserver.BearerToken(token)),
		),
		http:    hc,
		baseURL: baseURL,
	}, nil
}

// BaseURL returns the resolved base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Status(ctx context.Context) (*adminv1.StatusResponse, error) {
	resp, err := c.admin.Status(ctx, connect.NewRequest(&adminv1.StatusRequest{}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *Client) Members(ctx context.Context) (*adminv1.MembersResponse, error) {
	resp, err := c.admin.Members(ctx, connect.NewRequest(&adminv1.MembersRequest{}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *Client) Resolve(ctx context.Context, identity string) ([]domain.Endpoint, error) {
	resp, err := c.admin.Resolve(ctx, connect.NewRequest(&adminv1.ResolveRequest{Identity: identity}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg.Endpoints, nil
}

func (c *Client) Negotiate(ctx context.Context, identity string) (*adminv1.NegotiateResponse, error) {
	resp, err := c.admin.Negotiate(ctx, connect.NewRequest(&adminv1.NegotiateRequest{Identity: identity}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg, nil
}

// Ping asks the server to ping address ("kind://address").
func (c *Client) Ping(ctx context.Context, address string) (*adminv1.PingResponse, error) {
	resp, err := c.admin.Ping(ctx, connect.NewRequest(&adminv1.PingRequest{Address: address}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg, nil
}

// Call sends payload to identity through the server's participant.
func (c *Client) Call(ctx context.Context, identity string, payload []byte) (*adminv1.CallResponse, error) {
	resp, err := c.admin.Call(ctx, connect.NewRequest(&adminv1.CallRequest{Identity: identity, Payload: payload}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg, nil
}

func (c *Client) UpdateEndpoints(ctx context.Context, eps []domain.Endpoint) ([]domain.Endpoint, error) {
	resp, err := c.admin.UpdateEndpoints(ctx, connect.NewRequest(&adminv1.UpdateEndpointsRequest{Endpoints: eps}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg.Endpoints, nil
}

func (c *Client) Leave(ctx context.Context) error {
	_, err := c.admin.Leave(ctx, connect.NewRequest(&adminv1.LeaveRequest{}))
	return adminserver.FromConnectError(err)
}

func (c *Client) Events(ctx context.Context, limit int, kind string) ([]adminv1.Event, error) {
	resp, err := c.admin.Events(ctx, connect.NewRequest(&adminv1.EventsRequest{Limit: limit, Kind: kind}))
	if err != nil {
		return nil, adminserver.FromConnectError(err)
	}
	return resp.Msg.Events, nil
}

// Ready queries /readyz. The returned string is the server's reason.
func (c *Client) Ready(ctx context.Context) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return false, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode == http.StatusOK, strings.TrimSpace(string(body)), nil
}
