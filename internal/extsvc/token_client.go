package extsvc

import (
	"context"
	"time"
)

// TokenClient talks to the remote Token Service.
type TokenClient struct {
	c *client
}

var _ Tokens = (*TokenClient)(nil)

func NewTokenClient(addr, apiKey string) (*TokenClient, error) {
	c, err := newClient(addr, apiKey, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &TokenClient{c: c}, nil
}

func (t *TokenClient) State(ctx context.Context, token string) (TokenState, error) {
	var resp TokenState
	err := t.c.doJSON(ctx, "POST", "/api/v1/tokens/state", map[string]string{"token": token}, &resp)
	return resp, err
}

func (t *TokenClient) Consume(ctx context.Context, token string, locationID uint) (bool, string, error) {
	var resp struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	in := map[string]any{"token": token, "location_id": locationID}
	if err := t.c.doJSON(ctx, "POST", "/api/v1/tokens/consume", in, &resp); err != nil {
		return false, "", err
	}
	return resp.OK, resp.Reason, nil
}
