package sampler

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

type LoadAvg struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

type CPUStats struct {
	PercentTotal  float64 `json:"percent_total"`
	CoresLogical  int     `json:"cores_logical"`
	CoresPhysical int     `json:"cores_physical"`
}

type MemStats struct {
	Total     uint64  `json:"total"`
	Available uint64  `json:"available"`
	Used      uint64  `json:"used"`
	Percent   float64 `json:"percent"`
}

type SwapStats struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

type DiskUsage struct {
	Total   uint64  `json:"total"`
	Used    uint64  `json:"used"`
	Free    uint64  `json:"free"`
	Percent float64 `json:"percent"`
}

type NetCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

type NetRates struct {
	TxBps float64 `json:"tx_Bps"`
	RxBps float64 `json:"rx_Bps"`
}

type NetStats struct {
	Totals NetCounters `json:"totals"`
	Rates  *NetRates   `json:"rates,omitempty"`
}

// HostStats is one sample of the host. Pointer fields are nil when the
// underlying probe failed; consumers treat nil as a missing signal.
type HostStats struct {
	Hostname string               `json:"hostname"`
	UptimeS  float64              `json:"uptime_s"`
	Load     *LoadAvg             `json:"load,omitempty"`
	CPU      *CPUStats            `json:"cpu,omitempty"`
	Mem      *MemStats            `json:"mem,omitempty"`
	Swap     *SwapStats           `json:"swap,omitempty"`
	Disks    map[string]DiskUsage `json:"disks,omitempty"`
	Net      *NetStats            `json:"net,omitempty"`
}

// collectHost probes the host. Individual probe failures leave the
// corresponding field nil rather than failing the whole sample.
func collectHost(ctx context.Context) HostStats {
	var out HostStats

	if info, err := host.InfoWithContext(ctx); err == nil {
		out.Hostname = info.Hostname
		out.UptimeS = float64(info.Uptime)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load = &LoadAvg{Load1: avg.Load1, Load5: avg.Load5, Load15: avg.Load15}
	}

	// One-second window avoids the zero-percent first-call artifact.
	if percents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(percents) > 0 {
		logical, _ := cpu.CountsWithContext(ctx, true)
		physical, _ := cpu.CountsWithContext(ctx, false)
		out.CPU = &CPUStats{
			PercentTotal:  percents[0],
			CoresLogical:  logical,
			CoresPhysical: physical,
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.Mem = &MemStats{Total: vm.Total, Available: vm.Available, Used: vm.Used, Percent: vm.UsedPercent}
	}

	if sm, err := mem.SwapMemoryWithContext(ctx); err == nil {
		out.Swap = &SwapStats{Total: sm.Total, Used: sm.Used, Free: sm.Free, Percent: sm.UsedPercent}
	}

	if parts, err := disk.PartitionsWithContext(ctx, false); err == nil {
		disks := make(map[string]DiskUsage)
		for _, p := range parts {
			if p.Fstype == "" || p.Fstype == "squashfs" ||
				strings.HasPrefix(p.Mountpoint, "/snap") ||
				strings.HasPrefix(p.Mountpoint, "/var/lib/docker") {
				continue
			}
			du, err := disk.UsageWithContext(ctx, p.Mountpoint)
			if err != nil {
				continue
			}
			disks[p.Mountpoint] = DiskUsage{Total: du.Total, Used: du.Used, Free: du.Free, Percent: du.UsedPercent}
		}
		if len(disks) > 0 {
			out.Disks = disks
		}
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		c := counters[0]
		out.Net = &NetStats{Totals: NetCounters{
			BytesSent:   c.BytesSent,
			BytesRecv:   c.BytesRecv,
			PacketsSent: c.PacketsSent,
			PacketsRecv: c.PacketsRecv,
		}}
	}

	return out
}

// netRates derives byte rates from two counter samples dt seconds apart.
func netRates(prev, curr NetCounters, dt float64) *NetRates {
	if dt <= 0 {
		return nil
	}
	tx := float64(curr.BytesSent) - float64(prev.BytesSent)
	rx := float64(curr.BytesRecv) - float64(prev.BytesRecv)
	if tx < 0 {
		tx = 0
	}
	if rx < 0 {
		rx = 0
	}
	return &NetRates{TxBps: tx / dt, RxBps: rx / dt}
}
