package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"node.town/voxroom/transport"
)

const DefaultURL = "http://localhost:3001/api/token"

// Issuer hands out room credentials.
type Issuer interface {
	Issue(ctx context.Context) (transport.Credential, error)
}

type Client struct {
	URL        string
	HTTPClient *http.Client
}

func NewClient(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Issue(ctx context.Context) (transport.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, nil)
	if err != nil {
		return transport.Credential{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return transport.Credential{}, fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return transport.Credential{}, fmt.Errorf(
			"unexpected status code: %d, response body: %s",
			resp.StatusCode,
			string(body),
		)
	}

	var cred transport.Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return transport.Credential{}, fmt.Errorf("decode token response: %w", err)
	}
	if cred.Token == "" || cred.URL == "" {
		return transport.Credential{}, errors.New("token response missing token or url")
	}
	return cred, nil
}
