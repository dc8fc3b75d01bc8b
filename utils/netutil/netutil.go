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

// Package netutil provides small address-parsing and local-network
// helpers shared by the transport and discovery layers.
package netutil

import (
	"fmt"
	"net"
	"strings"
)

// SplitHostPort splits addr into host and port, tolerating a missing port
// (returned as ""). Unlike net.SplitHostPort, a bare hostname with no
// colon is not an error.
func SplitHostPort(addr string) (string, string, error) {
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", "", fmt.Errorf("%s is not a valid address", addr)
		}
		return parts[0], "", nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%s is not a valid address", addr)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%s is not a valid address", addr)
	}
}

// GetLocalIP returns the first non-loopback IPv4 address among the system's
// interface addresses (interface up/down state is not checked), for announcing this process's reachable address when
// none is configured explicitly.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}
