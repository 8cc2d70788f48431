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

// Package hostprobe reads host resource usage from procfs and statfs.
package hostprobe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"

	"github.com/oliacesso/relay-server/pkg/core"
)

var errNoMemTotal = errors.New("meminfo: MemTotal missing")

type Probe struct {
	fs        procfs.FS
	diskPath  string
	startedAt time.Time

	mu      sync.Mutex
	prevCPU *procfs.CPUStat
	lastCPU float64
}

// minCPUWindow is the smallest span of CPU time, in seconds summed over all
// CPUs, that a new reading is measured over. Reads closer together than that
// return the previous figure and keep the baseline.
const minCPUWindow = 1.0

// New opens the proc filesystem mounted at procPath. Disk usage is reported
// for the filesystem holding diskPath.
func New(procPath, diskPath string) (*Probe, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", procPath, err)
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &Probe{fs: fs, diskPath: diskPath, startedAt: time.Now().UTC()}, nil
}

// CPUUsage is the busy share of CPU time since the previous reading. The
// first call reports the average since boot.
func (p *Probe) CPUUsage() (float64, error) {
	st, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read stat: %w", err)
	}
	cur := st.CPUTotal

	p.mu.Lock()
	defer p.mu.Unlock()

	busy, total := cpuTimes(cur)
	if p.prevCPU != nil {
		pb, pt := cpuTimes(*p.prevCPU)
		busy, total = busy-pb, total-pt
		if total < minCPUWindow {
			return p.lastCPU, nil
		}
	}
	p.prevCPU = &cur
	if total <= 0 {
		p.lastCPU = 0
		return 0, nil
	}
	p.lastCPU = round2(clampPct(busy / total * 100))
	return p.lastCPU, nil
}

func cpuTimes(c procfs.CPUStat) (busy, total float64) {
	idle := c.Idle + c.Iowait
	busy = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return busy, busy + idle
}

func (p *Probe) MemoryUsage() (float64, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, errNoMemTotal
	}
	total := float64(*mi.MemTotal)
	avail := 0.0
	switch {
	case mi.MemAvailable != nil:
		avail = float64(*mi.MemAvailable)
	case mi.MemFree != nil:
		avail = float64(*mi.MemFree)
	}
	return round2(clampPct((total - avail) / total * 100)), nil
}

func (p *Probe) DiskUsage() (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.diskPath, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.diskPath, err)
	}
	if st.Blocks == 0 {
		return 0, nil
	}
	used := float64(st.Blocks-st.Bfree) / float64(st.Blocks) * 100
	return round2(clampPct(used)), nil
}

// NetworkInterfaces joins the byte counters of /proc/net/dev with the
// addresses the kernel reports for each interface.
func (p *Probe) NetworkInterfaces() ([]core.NetworkInterface, error) {
	dev, err := p.fs.NetDev()
	if err != nil {
		return nil, fmt.Errorf("read net/dev: %w", err)
	}

	addrs := interfaceAddrs()
	out := make([]core.NetworkInterface, 0, len(dev))
	for name, line := range dev {
		ni := core.NetworkInterface{
			Name:     name,
			BytesIn:  int64(line.RxBytes),
			BytesOut: int64(line.TxBytes),
		}
		if a, ok := addrs[name]; ok {
			ni.IP = a.ip
			ni.Active = a.up
		}
		out = append(out, ni)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type ifaceAddr struct {
	ip string
	up bool
}

func interfaceAddrs() map[string]ifaceAddr {
	out := make(map[string]ifaceAddr)
	ifaces, err := net.Interfaces()
	if err != nil {
		return out
	}
	for _, iface := range ifaces {
		a := ifaceAddr{up: iface.Flags&net.FlagUp != 0}
		if list, err := iface.Addrs(); err == nil {
			for _, addr := range list {
				ipnet, ok := addr.(*net.IPNet)
				if !ok {
					continue
				}
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					a.ip = ip4.String()
					break
				}
				if a.ip == "" {
					a.ip = ipnet.IP.String()
				}
			}
		}
		out[iface.Name] = a
	}
	return out
}

// SystemInfo never fails. Values that cannot be read are reported as zero.
func (p *Probe) SystemInfo(_ context.Context) core.SystemInfo {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	info := core.SystemInfo{
		ServerName:      host,
		OperatingSystem: runtime.GOOS,
		Architecture:    runtime.GOARCH,
		RuntimeVersion:  runtime.Version(),
		ProcessorCount:  runtime.NumCPU(),
		StartedAt:       p.startedAt,
		UptimeSeconds:   int64(time.Since(p.startedAt).Seconds()),
	}
	info.CPUUsage, _ = p.CPUUsage()
	info.MemoryUsage, _ = p.MemoryUsage()
	info.DiskUsage, _ = p.DiskUsage()
	if ifaces, err := p.NetworkInterfaces(); err == nil {
		info.NetworkInterfaces = ifaces
	} else {
		info.NetworkInterfaces = []core.NetworkInterface{}
	}
	return info
}

func clampPct(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
