// Package sysinfo gathers facts about the machine the engine runs on: the
// system summary, the compatibility check, candidate install disks, and the
// process list. Gathering is synchronous; callers get plain values.
package sysinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/glacieros/glacierd/pkg/protocol"
)

// Collector implements the engine's system inspection collaborators against
// the local machine.
type Collector struct {
	// procRoot and sysRoot are overridable for tests.
	procRoot string
	sysRoot  string
	etcRoot  string
}

// NewCollector creates a collector reading the real /proc, /sys and /etc.
func NewCollector() *Collector {
	return &Collector{procRoot: "/proc", sysRoot: "/sys", etcRoot: "/etc"}
}

// minMemoryMB is the smallest machine the appliance image supports.
const minMemoryMB = 2048

// Summary gathers a snapshot of the local system.
func (c *Collector) Summary(_ context.Context) (protocol.SystemSummary, error) {
	summary := protocol.SystemSummary{Arch: runtime.GOARCH}

	hostname, err := os.Hostname()
	if err != nil {
		return summary, fmt.Errorf("hostname: %w", err)
	}
	summary.Hostname = hostname

	if raw, err := os.ReadFile(c.etcRoot + "/os-release"); err == nil {
		summary.OSName, summary.OSVersion = ParseOSRelease(string(raw))
	}
	if raw, err := os.ReadFile(c.procRoot + "/sys/kernel/osrelease"); err == nil {
		summary.Kernel = trimLine(string(raw))
	}
	if raw, err := os.ReadFile(c.procRoot + "/cpuinfo"); err == nil {
		summary.CPUModel, summary.CPUCores = ParseCPUInfo(string(raw))
	}

	raw, err := os.ReadFile(c.procRoot + "/meminfo")
	if err != nil {
		return summary, fmt.Errorf("read meminfo: %w", err)
	}
	summary.MemoryMB = ParseMemTotalMB(string(raw))

	if _, err := os.Stat(c.sysRoot + "/firmware/efi"); err == nil {
		summary.EFIBoot = true
	}
	return summary, nil
}

// Check gathers a summary and evaluates it against the appliance's
// requirements. An incompatible machine is a result, not an error.
func (c *Collector) Check(ctx context.Context) (protocol.CheckResult, error) {
	summary, err := c.Summary(ctx)
	if err != nil {
		return protocol.CheckResult{}, err
	}
	return Evaluate(summary), nil
}

// Evaluate applies the compatibility rules to a summary.
func Evaluate(summary protocol.SystemSummary) protocol.CheckResult {
	result := protocol.CheckResult{Summary: summary}

	switch summary.Arch {
	case "amd64", "arm64":
	default:
		result.Problems = append(result.Problems,
			fmt.Sprintf("unsupported architecture %q", summary.Arch))
	}
	if summary.MemoryMB < minMemoryMB {
		result.Problems = append(result.Problems,
			fmt.Sprintf("%d MB memory, need at least %d MB", summary.MemoryMB, minMemoryMB))
	}
	if !summary.EFIBoot {
		result.Problems = append(result.Problems, "system did not boot via UEFI")
	}

	result.Compatible = len(result.Problems) == 0
	return result
}

// Disks enumerates candidate install disks via lsblk.
func (c *Collector) Disks(ctx context.Context) ([]protocol.DiskInfo, error) {
	out, err := exec.CommandContext(ctx, "lsblk", "--json", "--bytes", "--nodeps",
		"--output", "NAME,SIZE,MODEL,SERIAL,RM,TYPE").Output()
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	return ParseLsblk(out)
}

// Processes lists running processes from /proc.
func (c *Collector) Processes(_ context.Context) ([]protocol.ProcessInfo, error) {
	return listProcesses(c.procRoot)
}
