package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
)

type RequestOption func(req *http.Request) *http.Request

func WithContext(ctx context.Context) RequestOption {
	return func(req *http.Request) *http.Request {
		return req.WithContext(ctx)
	}
}

func WithHeader(key string, value string, values ...string) RequestOption {
	return func(req *http.Request) *http.Request {
		req.Header.Add(key, value)
		for _, v := range values {
			req.Header.Add(key, v)
		}
		return req
	}
}

// Do sends a request to h and records the response.
func Do(h http.Handler, method string, target string, body io.Reader, reqopts ...RequestOption) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for _, opt := range reqopts {
		req = opt(req)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

// = Do(h, "GET", target, nil, reqopts...)
func Get(h http.Handler, target string, reqopts ...RequestOption) *httptest.ResponseRecorder {
	return Do(h, http.MethodGet, target, nil, reqopts...)
}
