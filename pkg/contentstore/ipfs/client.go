// Package ipfs is a contentstore.Store backed by a Kubo node's RPC API.
package ipfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/LumeraProtocol/notary/pkg/contentstore"
	json "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// DefaultAPIURL is Kubo's default RPC listen address.
const DefaultAPIURL = "http://127.0.0.1:5001"

// Options configures a Client.
type Options struct {
	APIURL string
	// Timeout bounds each RPC call when the caller's context has no deadline.
	Timeout time.Duration
	// Offline asks the node not to search the network on cat, so unknown
	// ids fail fast with ErrNotFound.
	Offline    bool
	HTTPClient *http.Client
}

// Client talks to /api/v0/add and /api/v0/cat.
type Client struct {
	base       string
	offline    bool
	httpClient *http.Client
}

var _ contentstore.Store = (*Client)(nil)

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

type rpcError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
	Type    string `json:"Type"`
}

// NewClient returns a Client for opts.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.APIURL, "/")
	if base == "" {
		base = DefaultAPIURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, offline: opts.Offline, httpClient: hc}
}

func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	q := url.Values{}
	q.Set("pin", "true")
	q.Set("cid-version", "0")
	return c.add(ctx, data, q)
}

// IDFor asks the node for the id data would be stored under without writing
// any blocks.
func (c *Client) IDFor(ctx context.Context, data []byte) (string, error) {
	q := url.Values{}
	q.Set("only-hash", "true")
	q.Set("pin", "false")
	q.Set("cid-version", "0")
	return c.add(ctx, data, q)
}

func (c *Client) add(ctx context.Context, data []byte, q url.Values) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "blob")
	if err != nil {
		return "", errors.Wrap(err, "create multipart part")
	}
	if _, err := part.Write(data); err != nil {
		return "", errors.Wrap(err, "write multipart part")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, "close multipart writer")
	}

	resp, err := c.call(ctx, "add", q, &body, mw.FormDataContentType())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// add streams one JSON object per added entry; the single file is the last.
	var out addResponse
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		if err := dec.Decode(&out); err != nil {
			return "", errors.Wrap(err, "decode ipfs add response")
		}
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ipfs add returned no content id")
	}
	return out.Hash, nil
}

func (c *Client) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, contentstore.ErrNotFound
	}
	q := url.Values{}
	q.Set("arg", id)
	if c.offline {
		q.Set("offline", "true")
	}
	resp, err := c.call(ctx, "cat", q, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read ipfs cat response")
	}
	return data, nil
}

// call issues POST /api/v0/<cmd>. Kubo answers RPC errors with status 500 and
// a JSON body; those are mapped to ErrNotFound where the message says so.
func (c *Client) call(ctx context.Context, cmd string, q url.Values, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/api/v0/%s?%s", c.base, cmd, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, errors.Wrap(err, "create ipfs request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "ipfs %s", cmd)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var rerr rpcError
	if json.Unmarshal(raw, &rerr) == nil && rerr.Message != "" {
		msg := strings.ToLower(rerr.Message)
		if strings.Contains(msg, "not found") || strings.Contains(msg, "invalid path") || strings.Contains(msg, "invalid cid") {
			return nil, errors.Wrap(contentstore.ErrNotFound, rerr.Message)
		}
		return nil, fmt.Errorf("ipfs %s failed (status %d): %s", cmd, resp.StatusCode, rerr.Message)
	}
	return nil, fmt.Errorf("ipfs %s failed (status %d): %s", cmd, resp.StatusCode, strings.TrimSpace(string(raw)))
}
