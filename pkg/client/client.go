// Package client is a Go SDK for the contacts API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the contacts API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      string
}

// Config holds configuration for the client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// New creates a new Client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Token:   cfg.Token,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Contact mirrors the contact representation served by the API.
type Contact struct {
	ID             string   `json:"id"`
	FirstName      string   `json:"first_name"`
	LastName       string   `json:"last_name"`
	OwnerID        string   `json:"owner_id"`
	Company        string   `json:"company"`
	Active         bool     `json:"active"`
	MarketingOptIn bool     `json:"marketing_opt_in"`
	Tags           []string `json:"tags"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsForbidden reports whether err is a 403 from the API.
func IsForbidden(err error) bool { return hasStatus(err, http.StatusForbidden) }

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsUnavailable reports whether err is a 503 from the API.
func IsUnavailable(err error) bool { return hasStatus(err, http.StatusServiceUnavailable) }

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

type resultResponse struct {
	Result string `json:"result"`
}

// ListContacts returns the contacts the caller may list.
func (c *Client) ListContacts(ctx context.Context) ([]Contact, error) {
	var out []Contact
	if err := c.doRequest(ctx, http.MethodGet, "/contacts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetContact fetches a single contact.
func (c *Client) GetContact(ctx context.Context, id string) (Contact, error) {
	var out Contact
	err := c.doRequest(ctx, http.MethodGet, "/contacts/"+url.PathEscape(id), &out)
	return out, err
}

// CreateContact asks the API to create a contact and returns its result message.
func (c *Client) CreateContact(ctx context.Context) (string, error) {
	return c.result(ctx, http.MethodPost, "/contacts/new")
}

// UpdateContact asks the API to update a contact and returns its result message.
func (c *Client) UpdateContact(ctx context.Context, id string) (string, error) {
	return c.result(ctx, http.MethodPatch, "/contacts/"+url.PathEscape(id))
}

// DeleteContact asks the API to delete a contact and returns its result message.
func (c *Client) DeleteContact(ctx context.Context, id string) (string, error) {
	return c.result(ctx, http.MethodDelete, "/contacts/"+url.PathEscape(id))
}

func (c *Client) result(ctx context.Context, method, path string) (string, error) {
	var out resultResponse
	if err := c.doRequest(ctx, method, path, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}

// doRequest helper to perform authenticated requests.
func (c *Client) doRequest(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
