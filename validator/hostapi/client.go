// Package hostapi is the runner's client for the local container-management
// service. The host is responsible for sandboxing, time-limiting, and
// recording execution receipts; the runner only loads images, invokes
// entrypoints, and garbage collects handles.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Runner-side failure taxonomy for agent execution. All of these map to a
// success=false response upstream.
var (
	ErrImageUnavailable = errors.New("agent image unavailable")
	ErrInvokeTimeout    = errors.New("agent invocation timed out")
	ErrContainerError   = errors.New("agent container error")
	ErrMalformed        = errors.New("agent output malformed")
)

// InvokeResult is the host's answer for one agent invocation.
type InvokeResult struct {
	Result  []byte      `json:"result"`
	Receipt common.Hash `json:"receipt"`
	Cost    uint64      `json:"cost"`
	Success bool        `json:"success"`
}

type loadRequest struct {
	AgentID  common.Hash `json:"agentId"`
	ImageURI string      `json:"imageUri"`
}

type loadResponse struct {
	Handle string `json:"handle"`
}

// Client talks HTTP to the loopback host API.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a host client for the given base endpoint, e.g.
// "http://127.0.0.1:7654". The timeout bounds each individual call.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// LoadContainer asks the host to fetch and start the agent container.
// Idempotent on the host side: an already-local image returns its existing
// handle.
func (c *Client) LoadContainer(ctx context.Context, agentID common.Hash, imageURI string) (string, error) {
	body, err := json.Marshal(&loadRequest{AgentID: agentID, ImageURI: imageURI})
	if err != nil {
		return "", errors.Wrap(err, "marshal load request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/containers", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build load request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", errors.Wrapf(ErrImageUnavailable, "image %s", imageURI)
	case resp.StatusCode >= 500:
		return "", errors.Wrapf(ErrContainerError, "host returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return "", errors.Wrapf(ErrContainerError, "unexpected status %d", resp.StatusCode)
	}

	var out loadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Handle == "" {
		return "", errors.Wrap(ErrMalformed, "load response")
	}
	return out.Handle, nil
}

// Invoke runs the agent entrypoint with the raw request payload.
func (c *Client) Invoke(ctx context.Context, handle string, payload []byte) (*InvokeResult, error) {
	url := fmt.Sprintf("%s/containers/%s/invoke", c.endpoint, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build invoke request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 500 {
		return nil, errors.Wrapf(ErrContainerError, "host returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrContainerError, "unexpected status %d", resp.StatusCode)
	}

	var out InvokeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(ErrMalformed, "invoke response")
	}
	return &out, nil
}

// Remove garbage collects a container handle.
func (c *Client) Remove(ctx context.Context, handle string) error {
	url := fmt.Sprintf("%s/containers/%s", c.endpoint, handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return errors.Wrap(err, "build remove request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Wrapf(ErrContainerError, "unexpected status %d", resp.StatusCode)
	}
	return nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrInvokeTimeout, err.Error())
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Timeout() {
		return errors.Wrap(ErrInvokeTimeout, err.Error())
	}
	return errors.Wrap(ErrContainerError, err.Error())
}
