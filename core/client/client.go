// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the REST api.

Instead of marshalling HTTP, the client talks directly to the mux
router. It is perfectly suited for unit tests, and for request handlers
that need to call other handlers to fulfill their task.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	ctx        context.Context
}

// NewWithRouter creates a client to make pseudo-REST requests to the
// backend, through the mux router.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router: router,
	}
}

// NewWithURL creates a client to make REST requests to a remote backend.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithToken returns a new client with an authorization token.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithContext returns a new client with a base context.
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) do(method, path string, header map[string]string, body []byte) (int, http.Header, []byte, error) {
	var r *http.Request
	var err error
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if c.router != nil {
		r = httptest.NewRequest(method, path, reader)
	} else {
		r, err = http.NewRequest(method, c.url+path, reader)
		if err != nil {
			return 0, nil, nil, err
		}
	}
	if c.ctx != nil {
		r = r.WithContext(c.ctx)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Header(), rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return 0, nil, nil, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, res.Header, nil, err
	}
	return res.StatusCode, res.Header, data, nil
}

// RawGet gets the resource at path and decodes the body into result.
// Expects status 200.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader gets the resource at path with extra request headers
// and decodes the body into result. Expects status 200.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	status, resHeader, body, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status, resHeader, err
	}
	if status != http.StatusOK {
		return status, resHeader, fmt.Errorf("got status %d: %s", status, string(body))
	}
	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return status, resHeader, err
		}
	}
	return status, resHeader, nil
}

// RawGetBlob gets the raw body of the resource at path.
func (c Client) RawGetBlob(path string, header map[string]string) (int, []byte, error) {
	status, _, body, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return status, nil, err
	}
	if status != http.StatusOK {
		return status, body, fmt.Errorf("got status %d: %s", status, string(body))
	}
	return status, body, nil
}

// RawPost posts body to the resource at path and decodes the response
// into result. Expects status 200.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	status, _, data, err := c.do(http.MethodPost, path, map[string]string{"Content-Type": "application/json"}, payload)
	if err != nil {
		return status, err
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("got status %d: %s", status, string(data))
	}
	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return status, err
		}
	}
	return status, nil
}

// ExpectStatus gets the resource at path and asserts the returned
// status. The body is decoded into result when it is not nil.
func (c Client) ExpectStatus(path string, expected int, result interface{}) error {
	status, _, body, err := c.do(http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	if status != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, status, string(body))
	}
	if result != nil {
		return json.Unmarshal(body, result)
	}
	return nil
}
