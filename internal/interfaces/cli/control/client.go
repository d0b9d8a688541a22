package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Client is a short-lived client for the operator subcommands: dial the
// workspace's control socket, post one request, print the result, exit.
type Client struct {
	http *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 6 * time.Minute,
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (response, error) {
	var resp response
	payload, err := json.Marshal(body)
	if err != nil {
		return resp, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, bytes.NewReader(payload))
	if err != nil {
		return resp, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return resp, fmt.Errorf("dial driver control socket: %w (is `driver run` running?)", err)
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return resp, err
	}
	if !resp.OK {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// Input sends a fresh message to dialogID (or opens a new dialog if empty),
// returning the dialog id it landed in.
func (c *Client) Input(ctx context.Context, dialogID, content string) (string, error) {
	resp, err := c.post(ctx, "/input", inputRequest{DialogID: dialogID, Content: content})
	return resp.DialogID, err
}

// Stop requests dialogID's active run to halt with the given reason.
func (c *Client) Stop(ctx context.Context, dialogID, reason string) error {
	_, err := c.post(ctx, "/stop", stopRequest{DialogID: dialogID, Reason: reason})
	return err
}

// Resume re-queues a drive for dialogID.
func (c *Client) Resume(ctx context.Context, dialogID string) error {
	_, err := c.post(ctx, "/resume", resumeRequest{DialogID: dialogID})
	return err
}

// Answer records the operator's answer to a pending human question.
func (c *Client) Answer(ctx context.Context, q4hID, answer string) error {
	_, err := c.post(ctx, "/answer", answerRequest{Q4HID: q4hID, Answer: answer})
	return err
}
