// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package geo

import (
	"fmt"
	"net"
	"net/netip"
	"sort"

	"github.com/oliacesso/relay-server/pkg/config"
	"github.com/oliacesso/relay-server/pkg/core"
)

type entry struct {
	prefix netip.Prefix
	geo    core.Geo
}

// CIDRLocator resolves addresses against a static table of network ranges.
// The most specific matching range wins.
type CIDRLocator struct {
	entries []entry
}

func NewCIDRLocator(ranges []config.GeoRange) (*CIDRLocator, error) {
	l := &CIDRLocator{entries: make([]entry, 0, len(ranges))}
	for _, r := range ranges {
		p, err := netip.ParsePrefix(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("geo range %q: %w", r.CIDR, err)
		}
		l.entries = append(l.entries, entry{
			prefix: p.Masked(),
			geo: core.Geo{
				Country:   r.Country,
				City:      r.City,
				Latitude:  r.Latitude,
				Longitude: r.Longitude,
			},
		})
	}
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].prefix.Bits() > l.entries[j].prefix.Bits()
	})
	return l, nil
}

func (l *CIDRLocator) Locate(remoteAddress string) (core.Geo, bool) {
	addr, ok := parseAddr(remoteAddress)
	if !ok {
		return core.Geo{}, false
	}
	for _, e := range l.entries {
		if e.prefix.Contains(addr) {
			return e.geo, true
		}
	}
	return core.Geo{}, false
}

func (l *CIDRLocator) Len() int { return len(l.entries) }

func parseAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
