package sysinfo

import (
	"testing"

	"github.com/glacieros/glacierd/pkg/protocol"
)

func TestParseOSRelease(t *testing.T) {
	content := `NAME="NixOS"
ID=nixos
VERSION_ID="24.11"
PRETTY_NAME="NixOS 24.11 (Vicuna)"
`
	name, version := ParseOSRelease(content)
	if name != "NixOS" {
		t.Errorf("name = %q, want NixOS", name)
	}
	if version != "24.11" {
		t.Errorf("version = %q, want 24.11", version)
	}
}

func TestParseCPUInfo(t *testing.T) {
	content := `processor	: 0
model name	: AMD EPYC 7543 32-Core Processor
processor	: 1
model name	: AMD EPYC 7543 32-Core Processor
`
	model, cores := ParseCPUInfo(content)
	if model != "AMD EPYC 7543 32-Core Processor" {
		t.Errorf("model = %q", model)
	}
	if cores != 2 {
		t.Errorf("cores = %d, want 2", cores)
	}
}

func TestParseMemTotalMB(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int64
	}{
		{name: "normal", content: "MemTotal:       16318284 kB\nMemFree: 1 kB\n", want: 15935},
		{name: "missing", content: "MemFree: 1 kB\n", want: 0},
		{name: "garbage", content: "MemTotal: lots\n", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseMemTotalMB(tt.content); got != tt.want {
				t.Errorf("ParseMemTotalMB() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseLsblk(t *testing.T) {
	raw := []byte(`{
  "blockdevices": [
    {"name":"nvme0n1","size":512110190592,"model":"Samsung SSD 980 ","serial":"S649NX0T","rm":false,"type":"disk"},
    {"name":"sda","size":15728640000,"model":"Flash Drive","serial":null,"rm":true,"type":"disk"},
    {"name":"loop0","size":4096,"model":null,"serial":null,"rm":false,"type":"loop"},
    {"name":"sr0","size":1073741312,"model":"DVD-ROM","serial":null,"rm":true,"type":"rom"}
  ]
}`)

	disks, err := ParseLsblk(raw)
	if err != nil {
		t.Fatalf("ParseLsblk() error = %v", err)
	}
	if len(disks) != 2 {
		t.Fatalf("got %d disks, want 2", len(disks))
	}

	want := protocol.DiskInfo{
		Path: "/dev/nvme0n1", SizeBytes: 512110190592,
		Model: "Samsung SSD 980", Serial: "S649NX0T", Removable: false,
	}
	if disks[0] != want {
		t.Errorf("disks[0] = %+v, want %+v", disks[0], want)
	}
	if !disks[1].Removable || disks[1].Path != "/dev/sda" {
		t.Errorf("disks[1] = %+v, want removable /dev/sda", disks[1])
	}
}

func TestParseLsblkInvalid(t *testing.T) {
	if _, err := ParseLsblk([]byte("not json")); err == nil {
		t.Error("ParseLsblk() expected error for invalid JSON")
	}
}

func TestParseVmRSSKB(t *testing.T) {
	content := "Name:\tglacierd\nVmRSS:\t    24576 kB\n"
	if got := parseVmRSSKB(content); got != 24576 {
		t.Errorf("parseVmRSSKB() = %d, want 24576", got)
	}
}

func TestEvaluate(t *testing.T) {
	compatible := protocol.SystemSummary{
		Arch: "amd64", MemoryMB: 8192, EFIBoot: true,
	}

	tests := []struct {
		name         string
		mutate       func(*protocol.SystemSummary)
		wantOK       bool
		wantProblems int
	}{
		{name: "compatible machine", mutate: func(*protocol.SystemSummary) {}, wantOK: true},
		{
			name:         "unsupported arch",
			mutate:       func(s *protocol.SystemSummary) { s.Arch = "riscv64" },
			wantProblems: 1,
		},
		{
			name:         "too little memory",
			mutate:       func(s *protocol.SystemSummary) { s.MemoryMB = 512 },
			wantProblems: 1,
		},
		{
			name:         "legacy boot",
			mutate:       func(s *protocol.SystemSummary) { s.EFIBoot = false },
			wantProblems: 1,
		},
		{
			name: "everything wrong",
			mutate: func(s *protocol.SystemSummary) {
				s.Arch = "mips"
				s.MemoryMB = 256
				s.EFIBoot = false
			},
			wantProblems: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := compatible
			tt.mutate(&summary)
			result := Evaluate(summary)
			if result.Compatible != tt.wantOK {
				t.Errorf("Compatible = %v, want %v", result.Compatible, tt.wantOK)
			}
			if len(result.Problems) != tt.wantProblems {
				t.Errorf("Problems = %v, want %d entries", result.Problems, tt.wantProblems)
			}
		})
	}
}
