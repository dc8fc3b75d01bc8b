// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httputil wraps net/http with the send conventions used across
// this engine's HTTP clients: timeouts, accepted status codes, and retry on
// 5XX / transport errors (by default a constant 1s delay, up to 3 retries).
package httputil

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
)

// NetworkError indicates a non-HTTP-level failure (DNS, connection reset,
// dial timeout) as opposed to a StatusError, which is a valid HTTP
// response with an unaccepted status code.
type NetworkError struct {
	err error
}

func (e NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", e.err)
}

// StatusError is returned when a response's status code is not in the
// accepted set.
type StatusError struct {
	Method string
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

func (e StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

type sendOptions struct {
	timeout        time.Duration
	transport      http.RoundTripper
	acceptedCodes  map[int]bool
	retry          *retryOptions
	headers        map[string]string
	body           io.Reader
}

type retryOptions struct {
	backoff      backoff.BackOff
	retryCodes   map[int]bool
}

// SendOption configures a Send call.
type SendOption func(*sendOptions)

// SendTimeout sets the request timeout. Default is 60s.
func SendTimeout(d time.Duration) SendOption {
	return func(o *sendOptions) { o.timeout = d }
}

// SendTransport overrides the http.RoundTripper used to send requests.
func SendTransport(rt http.RoundTripper) SendOption {
	return func(o *sendOptions) { o.transport = rt }
}

// SendAcceptedCodes sets the status codes treated as success. Default is
// just 200.
func SendAcceptedCodes(codes ...int) SendOption {
	return func(o *sendOptions) {
		for _, c := range codes {
			o.acceptedCodes[c] = true
		}
	}
}

// SendHeaders attaches headers to the outgoing request.
func SendHeaders(h map[string]string) SendOption {
	return func(o *sendOptions) { o.headers = h }
}

// SendBody sets the outgoing request body.
func SendBody(r io.Reader) SendOption {
	return func(o *sendOptions) { o.body = r }
}

// RetryOption configures SendRetry.
type RetryOption func(*retryOptions)

// RetryBackoff sets the backoff.BackOff policy used between retries.
func RetryBackoff(b backoff.BackOff) RetryOption {
	return func(o *retryOptions) { o.backoff = b }
}

// RetryCodes adds status codes (beyond 5XX and transport errors) that
// should trigger a retry.
func RetryCodes(codes ...int) RetryOption {
	return func(o *retryOptions) {
		for _, c := range codes {
			o.retryCodes[c] = true
		}
	}
}

// SendRetry enables retrying on transport errors, 5XX responses, and any
// codes named by RetryCodes.
func SendRetry(opts ...RetryOption) SendOption {
	return func(o *sendOptions) {
		r := &retryOptions{
			backoff:    backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 3),
			retryCodes: make(map[int]bool),
		}
		for _, opt := range opts {
			opt(r)
		}
		o.retry = r
	}
}

func newSendOptions(opts ...SendOption) *sendOptions {
	o := &sendOptions{
		timeout:       60 * time.Second,
		acceptedCodes: map[int]bool{http.StatusOK: true},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Get issues a GET request to url.
func Get(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodGet, url, opts...)
}

// Post issues a POST request to url.
func Post(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodPost, url, opts...)
}

// Head issues a HEAD request to url.
func Head(url string, opts ...SendOption) (*http.Response, error) {
	return send(http.MethodHead, url, opts...)
}

func send(method, url string, opts ...SendOption) (*http.Response, error) {
	o := newSendOptions(opts...)

	do := func() (*http.Response, error) {
		req, err := http.NewRequest(method, url, o.body)
		if err != nil {
			return nil, err
		}
		for k, v := range o.headers {
			req.Header.Set(k, v)
		}

		client := &http.Client{Timeout: o.timeout}
		if o.transport != nil {
			client.Transport = o.transport
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, NetworkError{err}
		}
		if !o.acceptedCodes[resp.StatusCode] {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, StatusError{
				Method: method,
				URL:    url,
				Status: resp.StatusCode,
				Header: resp.Header,
				Body:   body,
			}
		}
		return resp, nil
	}

	if o.retry == nil {
		return do()
	}

	var resp *http.Response
	err := backoff.Retry(func() error {
		r, err := do()
		if err != nil {
			if shouldRetry(err, o.retry.retryCodes) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}, o.retry.backoff)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func shouldRetry(err error, extraCodes map[int]bool) bool {
	if _, ok := err.(NetworkError); ok {
		return true
	}
	if se, ok := err.(StatusError); ok {
		if se.Status >= 500 {
			return true
		}
		return extraCodes[se.Status]
	}
	return false
}
