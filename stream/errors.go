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
package stream

import (
	"fmt"
	"net/http"
)

// statusError pairs a message with the HTTP status it should produce,
// letting handlers return a single error value instead of writing the
// response themselves.
type statusError struct {
	status int
	msg    string
}

func errorf(format string, args ...interface{}) *statusError {
	return &statusError{status: http.StatusInternalServerError, msg: fmt.Sprintf(format, args...)}
}

// Status sets the HTTP status this error should produce, chainable at the
// call site: errorf("...").Status(http.StatusNotFound).
func (e *statusError) Status(code int) *statusError {
	e.status = code
	return e
}

func (e *statusError) Error() string { return e.msg }

// errHandler is an HTTP handler that may fail; wrap reports its error as the
// appropriate status code instead of a bare 500.
type errHandler func(w http.ResponseWriter, r *http.Request) error

// wrap adapts an errHandler into an http.HandlerFunc, writing a
// *statusError's status verbatim and collapsing anything else to 500.
func wrap(h errHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		if se, ok := err.(*statusError); ok {
			http.Error(w, se.msg, se.status)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
