package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the core's RPC server from a helper process.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at host:port.
func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: "http://" + net.JoinHostPort(host, strconv.Itoa(port)),
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

// ROM fetches one ROM.
func (c *Client) ROM(ctx context.Context, id string) (*ROM, error) {
	var out ROM
	if err := c.getJSON(ctx, "/query/rom/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Collection fetches one collection.
func (c *Client) Collection(ctx context.Context, id string) (*Collection, error) {
	var out Collection
	if err := c.getJSON(ctx, "/query/romcollection/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CollectionROMs fetches the ROMs of a collection.
func (c *Client) CollectionROMs(ctx context.Context, id string) ([]ROM, error) {
	var out []ROM
	if err := c.getJSON(ctx, "/query/romcollection/roms/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectionLaunchers fetches launcher id to settings for a collection.
func (c *Client) CollectionLaunchers(ctx context.Context, id string) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := c.getJSON(ctx, "/query/romcollection/launchers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ROMLauncherSettings fetches the settings of a ROM launcher. A nil result
// means the ROM has no such launcher.
func (c *Client) ROMLauncherSettings(ctx context.Context, romID, launcherID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/query/rom/launcher/settings/"+url.PathEscape(romID), url.Values{"launcher_id": {launcherID}})
}

// CollectionLauncherSettings fetches the settings of a collection launcher.
func (c *Client) CollectionLauncherSettings(ctx context.Context, collectionID, launcherID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/query/romcollection/launcher/settings/"+url.PathEscape(collectionID), url.Values{"launcher_id": {launcherID}})
}

// CollectionScannerSettings fetches the settings of a collection scanner.
func (c *Client) CollectionScannerSettings(ctx context.Context, collectionID, scannerID string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/query/romcollection/scanner/settings/"+url.PathEscape(collectionID), url.Values{"scanner_id": {scannerID}})
}

// StoreLauncher creates or updates a launcher binding.
func (c *Client) StoreLauncher(ctx context.Context, req StoreLauncherRequest) error {
	return c.post(ctx, "/store/launcher/", req)
}

// StoreScanner creates or updates a scanner binding.
func (c *Client) StoreScanner(ctx context.Context, req StoreScannerRequest) error {
	return c.post(ctx, "/store/scanner/", req)
}

// StoreROMs pushes a scan or scrape result.
func (c *Client) StoreROMs(ctx context.Context, req StoreROMsRequest) error {
	if req.ROMs == nil {
		req.ROMs = []ROM{}
	}
	return c.post(ctx, "/store/roms/", req)
}

// Quit asks the server to stop after this request.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.do(ctx, MethodQuit, "/", nil, nil)
	return err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("decode %s: invalid JSON", path)
	}
	return json.RawMessage(body), nil
}

func (c *Client) post(ctx context.Context, path string, in any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, path, nil, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	msg := strings.TrimSpace(string(data))
	var er ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	se := &StatusError{Code: resp.StatusCode, Message: msg}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, se)
	}
	return nil, se
}
