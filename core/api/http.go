// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package api

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/tessella-io/facet/core/assembly"
	"github.com/tessella-io/facet/core/fault"
	"github.com/tessella-io/facet/core/logger"
	"github.com/tessella-io/facet/core/request"
)

// urlPattern is the wire grammar: /<resource-path>/<id>?.<format>?
// An empty id addresses the list, a missing format means json.
var urlPattern = regexp.MustCompile(`^/(.+)/([^/.]*)(?:\.([a-z]+))?$`)

// reservedOptions never reach the request options from client input.
var reservedOptions = map[string]bool{
	"resource":     true,
	"id":           true,
	"format":       true,
	"_status":      true,
	"_httpRequest": true,
	"_auth":        true,
}

// Attach registers the HTTP surface on the router: request IDs, CORS,
// response compression and the resource routes.
func (a *API) Attach(router *mux.Router) {
	router.UseEncodedPath()
	logger.AddRequestID(router)
	router.Use(func(h http.Handler) http.Handler {
		return handlers.CompressHandler(h)
	})
	router.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedOrigins([]string{"*"}),
	))
	router.PathPrefix("/").HandlerFunc(a.serveHTTP).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
}

func (a *API) serveHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := a.parseHTTPRequest(r)
	if err != nil {
		a.writeError(w, r.Context(), err)
		return
	}
	response, err := a.Execute(r.Context(), req)
	if err != nil {
		a.writeError(w, r.Context(), err)
		return
	}
	a.writeResponse(w, response)
}

// parseHTTPRequest maps the wire surface onto the request model: URL
// grammar, query options, POST payloads.
func (a *API) parseHTTPRequest(r *http.Request) (*request.Request, error) {
	match := urlPattern.FindStringSubmatch(r.URL.Path)
	if match == nil {
		// a bare /<resource> reads as a list request
		if len(r.URL.Path) > 1 && !strings.Contains(r.URL.Path[1:], "/") {
			match = []string{r.URL.Path, r.URL.Path[1:], "", ""}
		} else {
			return nil, fault.ErrUnknownResource.New(r.URL.Path)
		}
	}
	req := &request.Request{
		Resource: match[1],
		ID:       match[2],
		Format:   match[3],
		Options:  map[string]string{},
	}
	req.AuthToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	query, err := url.ParseQuery(r.URL.RawQuery)
	if err != nil {
		return nil, fault.ErrInvalidSyntax.New("query", r.URL.RawQuery)
	}
	if err := a.applyOptions(req, query); err != nil {
		return nil, err
	}

	if r.Method == http.MethodPost {
		if err := a.parsePostBody(r, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// applyOptions copies parsed key/value options into the request.
// Duplicate keys are rejected, reserved and underscore-prefixed keys
// from client input are dropped.
func (a *API) applyOptions(req *request.Request, values url.Values) error {
	for key, list := range values {
		if len(list) > 1 {
			return fault.ErrDuplicateParameter.New(key)
		}
		if reservedOptions[key] || strings.HasPrefix(key, "_") {
			continue
		}
		value := list[0]
		var err error
		switch key {
		case "select":
			req.Select, err = parseSelectOption(value)
		case "filter":
			req.Filter, err = parseFilterOption(value)
		case "order":
			req.Order, err = parseOrderOption(value)
		case "limit":
			var n int
			if n, err = strconv.Atoi(value); err != nil {
				return fault.ErrInvalidRequestValue.New(value, key)
			}
			req.Limit = &n
		case "page":
			var n int
			if n, err = strconv.Atoi(value); err != nil {
				return fault.ErrInvalidRequestValue.New(value, key)
			}
			req.Page = &n
		case "search":
			req.Search = value
		case "action":
			req.Action = value
		default:
			req.Options[key] = value
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// parseSelectOption accepts the compact syntax and the structured JSON
// form.
func parseSelectOption(value string) (*request.SelectTree, error) {
	if strings.HasPrefix(value, "{") {
		tree := request.NewSelectTree()
		if err := json.Unmarshal([]byte(value), tree); err != nil {
			return nil, fault.ErrInvalidSyntax.New("select", value)
		}
		return tree, nil
	}
	return request.ParseSelect(value)
}

func parseFilterOption(value string) (request.Filter, error) {
	if strings.HasPrefix(value, "[") {
		var filter request.Filter
		if err := json.Unmarshal([]byte(value), &filter); err != nil {
			return nil, fault.ErrInvalidSyntax.New("filter", value)
		}
		return filter, nil
	}
	return request.ParseFilter(value)
}

func parseOrderOption(value string) (request.OrderList, error) {
	if strings.HasPrefix(value, "[") {
		var order request.OrderList
		if err := json.Unmarshal([]byte(value), &order); err != nil {
			return nil, fault.ErrInvalidSyntax.New("order", value)
		}
		return order, nil
	}
	return request.ParseOrder(value)
}

// parsePostBody reads a POST payload: JSON becomes request data, form
// encoding merges into the options. Reading is bounded by the configured
// timeout.
func (a *API) parsePostBody(r *http.Request, req *request.Request) error {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return fault.ErrMissingContentType.New()
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fault.ErrMissingContentType.New()
	}

	body, err := a.readBody(r)
	if err != nil {
		return err
	}

	switch mediaType {
	case "application/json":
		if !json.Valid(body) {
			return fault.ErrInvalidPayload.New()
		}
		req.Data = body
		return nil
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return fault.ErrInvalidPayload.New()
		}
		return a.applyOptions(req, values)
	default:
		return fault.ErrInvalidPayload.New()
	}
}

func (a *API) readBody(r *http.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(r.Context(), a.postReadTimeout)
	defer cancel()

	type readResult struct {
		data []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		data, err := io.ReadAll(r.Body)
		done <- readResult{data, err}
	}()
	select {
	case result := <-done:
		if result.err != nil {
			return nil, fault.ErrInvalidPayload.New()
		}
		return result.data, nil
	case <-ctx.Done():
		return nil, fault.ErrPostTimeout.New()
	}
}

func (a *API) writeResponse(w http.ResponseWriter, response *assembly.Response) {
	for key, values := range response.Meta.Headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	status := response.Meta.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func (a *API) writeError(w http.ResponseWriter, ctx context.Context, err error) {
	status := fault.StatusOf(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(ctx).WithError(err).Error("request failed")
	} else {
		logger.FromContext(ctx).WithError(err).Debug("request rejected")
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": fault.Message(err, a.exposeErrors),
		},
	})
}
