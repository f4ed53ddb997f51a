// Package sysinfo reports host load, CPU, memory, and OS version for
// GET /api/system (spec.md §4.8). It is grounded on gopsutil/v3, declared
// in the pack (aristath-portfolioManager's go.mod) for exactly this class
// of metric and adopted here directly against its documented API.
package sysinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is the payload shape GET /api/system returns.
type Snapshot struct {
	Load1        float64 `json:"load1"`
	Load5        float64 `json:"load5"`
	Load15       float64 `json:"load15"`
	CPUCount     int     `json:"cpu_count"`
	MemTotal     uint64  `json:"mem_total"`
	MemUsed      uint64  `json:"mem_used"`
	MemAvailable uint64  `json:"mem_available"`
	MemPercent   float64 `json:"mem_percent"`
	OS           string  `json:"os"`
	Kernel       string  `json:"kernel"`
	SysUptime    uint64  `json:"sys_uptime"` // seconds
}

// Collect gathers a Snapshot. Platform-specific gopsutil calls that are
// unsupported on the current OS (e.g. load averages on Windows) degrade to
// zero values rather than failing the whole call.
func Collect(ctx context.Context) (Snapshot, error) {
	var snap Snapshot

	if avg, err := load.AvgWithContext(ctx); err == nil {
		snap.Load1, snap.Load5, snap.Load15 = avg.Load1, avg.Load5, avg.Load15
	}

	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCount = count
	} else {
		snap.CPUCount = runtime.NumCPU()
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("sysinfo: failed to read memory stats: %w", err)
	}
	snap.MemTotal = vm.Total
	snap.MemUsed = vm.Used
	snap.MemAvailable = vm.Available
	snap.MemPercent = vm.UsedPercent

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("sysinfo: failed to read host info: %w", err)
	}
	snap.OS = info.Platform
	snap.Kernel = info.KernelVersion
	snap.SysUptime = info.Uptime

	return snap, nil
}
