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

package hostprobe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/oliacesso/relay-server/pkg/core"
)

var _ core.HostProbe = (*Probe)(nil)

const netDev = `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:    1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0:  500000    4000    0    0    0     0          0         0   250000    2000    0    0    0     0       0          0
`

func writeProc(t *testing.T, dir, stat string) {
	t.Helper()
	files := map[string]string{
		"stat":    stat,
		"meminfo": "MemTotal:        8000000 kB\nMemFree:         1000000 kB\nMemAvailable:    2000000 kB\n",
		"net/dev": netDev,
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func statFile(user, idle int) string {
	return fmt.Sprintf("cpu  %d 0 0 %d 0 0 0 0 0 0\nbtime 1700000000\n", user, idle)
}

func TestCPUUsageDelta(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statFile(100, 300))
	p, err := New(dir, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := p.CPUUsage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != 25 {
		t.Fatalf("expected 25%% since boot, got %v", first)
	}

	// 300 busy and 100 idle ticks since the previous read.
	writeProc(t, dir, statFile(400, 400))
	second, _ := p.CPUUsage()
	if second != 75 {
		t.Fatalf("expected 75%% delta, got %v", second)
	}
}

func TestCPUUsageBackToBackReads(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statFile(100, 300))
	p, err := New(dir, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.CPUUsage()

	writeProc(t, dir, statFile(400, 400))
	if got, _ := p.CPUUsage(); got != 75 {
		t.Fatalf("expected 75%%, got %v", got)
	}

	// A second caller reading straight after sees the same figure, not 0.
	if got, _ := p.CPUUsage(); got != 75 {
		t.Fatalf("expected back-to-back read to repeat 75%%, got %v", got)
	}
	writeProc(t, dir, statFile(410, 420))
	if got, _ := p.CPUUsage(); got != 75 {
		t.Fatalf("expected short window to repeat 75%%, got %v", got)
	}

	// The baseline was kept, so the next window spans all ticks since 400/400.
	writeProc(t, dir, statFile(450, 550))
	if got, _ := p.CPUUsage(); got != 25 {
		t.Fatalf("expected 25%% over the kept baseline, got %v", got)
	}
}

func TestMemoryUsage(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statFile(1, 1))
	p, _ := New(dir, dir)

	got, err := p.MemoryUsage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 75 {
		t.Fatalf("expected 75%%, got %v", got)
	}
}

func TestNetworkInterfaces(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statFile(1, 1))
	p, _ := New(dir, dir)

	ifaces, err := p.NetworkInterfaces()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ifaces) != 2 {
		t.Fatalf("expected 2 interfaces, got %d", len(ifaces))
	}
	if ifaces[0].Name != "eth0" || ifaces[0].BytesIn != 500000 || ifaces[0].BytesOut != 250000 {
		t.Fatalf("unexpected eth0: %+v", ifaces[0])
	}
}

func TestDiskUsageWithinRange(t *testing.T) {
	dir := t.TempDir()
	writeProc(t, dir, statFile(1, 1))
	p, _ := New(dir, dir)

	got, err := p.DiskUsage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < 0 || got > 100 {
		t.Fatalf("disk usage out of range: %v", got)
	}
}

func TestSystemInfoToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	p, err := New(dir, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info := p.SystemInfo(context.Background())
	if info.CPUUsage != 0 || info.MemoryUsage != 0 {
		t.Fatalf("expected zero usage without procfs files, got %+v", info)
	}
	if info.ProcessorCount < 1 || info.RuntimeVersion == "" {
		t.Fatalf("expected runtime details, got %+v", info)
	}
	if info.NetworkInterfaces == nil {
		t.Fatal("expected empty interface list, not nil")
	}
}

func TestRound2(t *testing.T) {
	if got := round2(12.3456); got != 12.35 {
		t.Fatalf("expected 12.35, got %v", got)
	}
	if got := clampPct(120); got != 100 {
		t.Fatalf("expected clamp to 100, got %v", got)
	}
}
