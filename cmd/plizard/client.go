package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/13illydakid/p-lizard-ext/internal/popup"
)

// client talks to a running plizard host.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(base, token string, timeout time.Duration) *client {
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx answer from the host.
type apiError struct {
	Status   int
	Message  string
	Step     int
	StepName string
}

func (e *apiError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("host: %d: step %d (%s): %s", e.Status, e.Step, e.StepName, e.Message)
	}
	return fmt.Sprintf("host: %d: %s", e.Status, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("connect to host at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error    string `json:"error"`
			Step     int    `json:"step"`
			StepName string `json:"stepName"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error, Step: e.Step, StepName: e.StepName}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) postJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, path, body, "application/json", out)
}

type viewResponse struct {
	View popup.View `json:"view"`
}

type healthResponse struct {
	Status string `json:"status"`
	CDP    string `json:"cdp"`
	Store  string `json:"store"`
	Tabs   int    `json:"tabs"`
	Error  string `json:"error"`
}

type pullQAResponse struct {
	Prompt string     `json:"prompt"`
	Answer string     `json:"answer"`
	Found  bool       `json:"found"`
	View   popup.View `json:"view"`
}

type pullTaskIDResponse struct {
	TaskID string     `json:"taskId"`
	Found  bool       `json:"found"`
	View   popup.View `json:"view"`
}

func (c *client) Health(ctx context.Context) (healthResponse, error) {
	var h healthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, "", &h)
	return h, err
}

func (c *client) View(ctx context.Context) (popup.View, error) {
	var r viewResponse
	err := c.do(ctx, http.MethodGet, "/state", nil, "", &r)
	return r.View, err
}

func (c *client) Field(ctx context.Context, name string) (string, error) {
	var r struct {
		Value string `json:"value"`
	}
	err := c.do(ctx, http.MethodGet, "/field?name="+url.QueryEscape(name), nil, "", &r)
	return r.Value, err
}

func (c *client) SetField(ctx context.Context, field, value string) (popup.View, error) {
	var r viewResponse
	err := c.postJSON(ctx, "/field", map[string]string{"field": field, "value": value}, &r)
	return r.View, err
}

func (c *client) ToggleRole(ctx context.Context, role string) (popup.View, error) {
	var r viewResponse
	err := c.postJSON(ctx, "/role", map[string]string{"role": role}, &r)
	return r.View, err
}

func (c *client) SelectQA(ctx context.Context, qa string) (popup.View, error) {
	var r viewResponse
	err := c.postJSON(ctx, "/qa", map[string]string{"qa": qa}, &r)
	return r.View, err
}

// UploadImage sends the file at path as the selected image.
func (c *client) UploadImage(ctx context.Context, path string) (popup.View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return popup.View{}, err
	}
	var r viewResponse
	q := "/image?name=" + url.QueryEscape(filepath.Base(path))
	err = c.do(ctx, http.MethodPost, q, bytes.NewReader(data), "application/octet-stream", &r)
	return r.View, err
}

func (c *client) DeleteImage(ctx context.Context) (popup.View, error) {
	var r viewResponse
	err := c.do(ctx, http.MethodDelete, "/image", nil, "", &r)
	return r.View, err
}

func (c *client) Clear(ctx context.Context, target string) (popup.View, error) {
	var r viewResponse
	err := c.postJSON(ctx, "/clear", map[string]string{"target": target}, &r)
	return r.View, err
}

func (c *client) Fill(ctx context.Context) error {
	return c.postJSON(ctx, "/fill", nil, nil)
}

func (c *client) PullTaskID(ctx context.Context) (pullTaskIDResponse, error) {
	var r pullTaskIDResponse
	err := c.postJSON(ctx, "/pull/taskid", nil, &r)
	return r, err
}

func (c *client) PullQA(ctx context.Context) (pullQAResponse, error) {
	var r pullQAResponse
	err := c.postJSON(ctx, "/pull/qa", nil, &r)
	return r, err
}
