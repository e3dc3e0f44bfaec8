package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// ServerError is the JSON error body the registry server returns.
type ServerError struct {
	Result int    `json:"result"`
	Error  string `json:"error"`
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
}

// DoRequest sends one request and returns the response body. Non-2xx
// responses are turned into errors carrying the server's error message.
func (c *HTTPClient) DoRequest(opts RequestOptions) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %v", err)
	}
	u.Path = path.Join(u.Path, opts.Path)
	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(opts.Method, u.String(), bytes.NewBuffer(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}
	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		var serverErr ServerError
		if jerr := json.Unmarshal(body, &serverErr); jerr == nil && serverErr.Error != "" {
			return nil, fmt.Errorf("%s (status %d)", serverErr.Error, rsp.StatusCode)
		}
		return nil, fmt.Errorf("server returned status %d", rsp.StatusCode)
	}
	return body, nil
}
