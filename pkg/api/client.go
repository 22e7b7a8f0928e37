// Package api is the REST client for the api service: login, history,
// media signing and reply suggestions.
package api

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

	"github.com/mahaj/groupchat/pkg/model"
)

var ErrUnauthorized = errors.New("api: unauthorized")

type LoginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

type UploadRequest struct {
	FileType string `json:"file_type"`
}

type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	Reference string `json:"reference"`
}

type MediaURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type SuggestRequest struct {
	Text string `json:"text"`
}

type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Body)
}

type Client struct {
	base  string
	http  *http.Client
	token string
}

func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/login", req, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, errors.New("api: login returned no token")
	}
	return &out, nil
}

// History returns the ordered message log for groupID.
func (c *Client) History(ctx context.Context, groupID string) ([]model.Message, error) {
	var out []model.Message
	q := url.Values{"group_id": {groupID}}
	if err := c.do(ctx, http.MethodGet, "/history?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Members(ctx context.Context, groupID string) ([]string, error) {
	var out []string
	if err := c.do(ctx, http.MethodGet, "/groups/"+url.PathEscape(groupID)+"/members", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SignUpload asks for a presigned upload target for a file of the given
// MIME type.
func (c *Client) SignUpload(ctx context.Context, fileType string) (*UploadTarget, error) {
	var out UploadTarget
	if err := c.do(ctx, http.MethodPost, "/media/upload", UploadRequest{FileType: fileType}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload signs an upload target, PUTs body to it and returns the stable
// reference to attach to a message.
func (c *Client) Upload(ctx context.Context, fileType string, body io.Reader) (string, error) {
	target, err := c.SignUpload(ctx, fileType)
	if err != nil {
		return "", fmt.Errorf("signing upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.UploadURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", fileType)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploading media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &StatusError{Code: resp.StatusCode, Body: string(b)}
	}
	return target.Reference, nil
}

// MediaURL returns a short-lived download URL for a stored object key.
func (c *Client) MediaURL(ctx context.Context, key string) (*MediaURLResponse, error) {
	var out MediaURLResponse
	q := url.Values{"key": {key}}
	if err := c.do(ctx, http.MethodGet, "/media/url?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignDownload satisfies the media resolver's signer contract.
func (c *Client) SignDownload(ctx context.Context, key string) (string, time.Time, error) {
	res, err := c.MediaURL(ctx, key)
	if err != nil {
		return "", time.Time{}, err
	}
	return res.URL, res.ExpiresAt, nil
}

func (c *Client) Suggest(ctx context.Context, text string) ([]string, error) {
	var out SuggestResponse
	if err := c.do(ctx, http.MethodPost, "/suggestions", SuggestRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	return out.Suggestions, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
