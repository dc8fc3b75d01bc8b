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
package httputil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/require"
)

func TestGetAccepted(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(499)
	}))
	defer srv.Close()

	_, err := Get(srv.URL, SendAcceptedCodes(200, 499))
	require.NoError(err)
}

func TestGetUnacceptedStatusError(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	_, err := Get(srv.URL)
	require.Error(err)
	require.Equal(404, err.(StatusError).Status)
}

func TestSendRetryOn5XX(t *testing.T) {
	require := require.New(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(503)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(
		RetryBackoff(backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 5))))
	require.NoError(err)
	require.EqualValues(3, atomic.LoadInt32(&calls))
}

func TestSendRetryExhausted(t *testing.T) {
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
	}))
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(
		RetryBackoff(backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 2))))
	require.Error(err)
	require.Equal(503, err.(StatusError).Status)
}

func TestSendRetryWithExtraCodes(t *testing.T) {
	require := require.New(t)

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(400)
			return
		}
		w.WriteHeader(200)
	}))
	defer srv.Close()

	_, err := Get(srv.URL, SendRetry(
		RetryBackoff(backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 3)),
		RetryCodes(400)))
	require.NoError(err)
}

func TestNetworkErrorOnUnreachableHost(t *testing.T) {
	_, err := Get("http://127.0.0.1:1")
	require.Error(t, err)
	_, ok := err.(NetworkError)
	require.True(t, ok)
}
