package api

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
)

// Client is a minimal REST client for the device vendor API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewClient constructs a vendor API client.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("device api: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ErrNotFound indicates an unknown device.
var ErrNotFound = errors.New("device api: not found")

type setpointRequest struct {
	Point string  `json:"point"`
	Value float64 `json:"value"`
}

// SetpointResponse is the vendor acknowledgement of a setpoint write.
type SetpointResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// SetTemperatureSetpoint writes t_set on a device.
func (c *Client) SetTemperatureSetpoint(ctx context.Context, externalID string, setpoint float64) error {
	if externalID == "" {
		return errors.New("device api: empty device id")
	}
	var resp SetpointResponse
	path := "/api/devices/" + externalID + "/setpoint"
	if err := c.doJSON(ctx, http.MethodPost, path, setpointRequest{Point: "t_set", Value: setpoint}, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("device api: device %s rejected setpoint: %s", externalID, resp.Error)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("device api: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
