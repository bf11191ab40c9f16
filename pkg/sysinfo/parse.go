package sysinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/glacieros/glacierd/pkg/protocol"
)

func trimLine(s string) string {
	return strings.TrimSpace(s)
}

// ParseOSRelease extracts NAME and VERSION_ID from os-release content.
func ParseOSRelease(content string) (name, version string) {
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "NAME":
			name = value
		case "VERSION_ID":
			version = value
		}
	}
	return name, version
}

// ParseCPUInfo extracts the model name and the physical line count of
// "processor" entries from /proc/cpuinfo content.
func ParseCPUInfo(content string) (model string, cores int) {
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "processor":
			cores++
		case "model name":
			if model == "" {
				model = value
			}
		}
	}
	return model, cores
}

// ParseMemTotalMB extracts MemTotal from /proc/meminfo content, in MB.
func ParseMemTotalMB(content string) int64 {
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb / 1024
	}
	return 0
}

// lsblkReport mirrors the JSON shape of `lsblk --json --bytes --nodeps`.
type lsblkReport struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name   string  `json:"name"`
	Size   int64   `json:"size"`
	Model  *string `json:"model"`
	Serial *string `json:"serial"`
	RM     bool    `json:"rm"`
	Type   string  `json:"type"`
}

// ParseLsblk parses lsblk JSON output into install disk candidates. Only
// whole disks qualify; loop devices and optical drives are skipped.
func ParseLsblk(raw []byte) ([]protocol.DiskInfo, error) {
	var report lsblkReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}

	disks := make([]protocol.DiskInfo, 0, len(report.BlockDevices))
	for _, dev := range report.BlockDevices {
		if dev.Type != "disk" {
			continue
		}
		disk := protocol.DiskInfo{
			Path:      "/dev/" + dev.Name,
			SizeBytes: dev.Size,
			Removable: dev.RM,
		}
		if dev.Model != nil {
			disk.Model = strings.TrimSpace(*dev.Model)
		}
		if dev.Serial != nil {
			disk.Serial = strings.TrimSpace(*dev.Serial)
		}
		disks = append(disks, disk)
	}
	return disks, nil
}

// listProcesses walks procRoot for numeric directories and reads each
// process's command line and resident set size.
func listProcesses(procRoot string) ([]protocol.ProcessInfo, error) {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procRoot, err)
	}

	var procs []protocol.ProcessInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		dir := filepath.Join(procRoot, entry.Name())
		comm, err := os.ReadFile(filepath.Join(dir, "comm"))
		if err != nil {
			// Process exited between ReadDir and here.
			continue
		}

		info := protocol.ProcessInfo{PID: pid, Command: trimLine(string(comm))}
		if status, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
			info.RSSKB = parseVmRSSKB(string(status))
		}
		procs = append(procs, info)
	}
	return procs, nil
}

// parseVmRSSKB extracts VmRSS from /proc/<pid>/status content, in kB.
func parseVmRSSKB(content string) int64 {
	for _, line := range strings.Split(content, "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb
	}
	return 0
}
