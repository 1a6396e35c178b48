// Package diagnostics collects host information for the doctor command.
package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/jaypipes/ghw"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Report holds a point-in-time snapshot of the host.
type Report struct {
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	NumCPU    int    `json:"num_cpu"`
	CPUModel  string `json:"cpu_model,omitempty"`
	CPUCores  int    `json:"cpu_cores,omitempty"`

	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1,omitempty"`
	LoadAvg5  float64 `json:"load_avg_5,omitempty"`
	LoadAvg15 float64 `json:"load_avg_15,omitempty"`

	GPUs []string `json:"gpus,omitempty"`

	GitAvailable bool   `json:"git_available"`
	GitVersion   string `json:"git_version,omitempty"`
}

// Collect gathers host information. Every probe is best-effort: a
// failing source leaves its fields zero instead of failing the report.
func Collect(statePath string) Report {
	r := Report{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		NumCPU:    runtime.NumCPU(),
	}

	if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
		r.CPUModel = strings.TrimSpace(infos[0].ModelName)
	}
	if cores, err := cpu.Counts(false); err == nil {
		r.CPUCores = cores
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemTotalMB = float64(vm.Total) / 1024 / 1024
		r.MemUsedMB = float64(vm.Used) / 1024 / 1024
		r.MemPercent = vm.UsedPercent
	}

	if usage, err := disk.Usage(diskPathFor(statePath)); err == nil {
		r.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
		r.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
		r.DiskPercent = usage.UsedPercent
	}

	if avg, err := load.Avg(); err == nil {
		r.LoadAvg1 = avg.Load1
		r.LoadAvg5 = avg.Load5
		r.LoadAvg15 = avg.Load15
	}

	r.GPUs = gpuNames()
	r.GitAvailable, r.GitVersion = gitVersion()

	return r
}

// diskPathFor picks the filesystem holding the state database, falling
// back to the root filesystem.
func diskPathFor(statePath string) string {
	if statePath != "" {
		if dir := strings.TrimSpace(statePath); dir != "" {
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				return dir
			}
		}
	}
	if runtime.GOOS == "windows" {
		drive := os.Getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		return drive + "\\"
	}
	return "/"
}

func gpuNames() []string {
	info, err := ghw.GPU()
	if err != nil || info == nil {
		return nil
	}
	names := make([]string, 0, len(info.GraphicsCards))
	for _, card := range info.GraphicsCards {
		name := ""
		if card.DeviceInfo != nil {
			switch {
			case card.DeviceInfo.Vendor != nil && card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name + " " + card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Product != nil:
				name = strings.TrimSpace(card.DeviceInfo.Product.Name)
			case card.DeviceInfo.Vendor != nil:
				name = strings.TrimSpace(card.DeviceInfo.Vendor.Name)
			}
		}
		if name == "" {
			name = fmt.Sprintf("GPU %d", card.Index)
		}
		names = append(names, name)
	}
	return names
}

// gitVersion reports whether git is on PATH; workflows run against git
// worktrees, so a missing git binary is worth surfacing.
func gitVersion() (bool, string) {
	path, err := exec.LookPath("git")
	if err != nil {
		return false, ""
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return true, ""
	}
	return true, strings.TrimSpace(string(out))
}
