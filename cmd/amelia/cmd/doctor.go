package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ameliahq/amelia/internal/config"
	"github.com/ameliahq/amelia/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Print host diagnostics",
	Long: `Collect and print host diagnostics: CPU, memory, the filesystem
holding the state database, load, GPUs, and git availability.`,
	RunE: runDoctor,
}

var doctorOutput string

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVarP(&doctorOutput, "output", "o", "text",
		"output format (text, json, yaml)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	statePath := ""
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	if cfg, err := loader.Load(); err == nil {
		statePath = filepath.Dir(cfg.State.Path)
	}

	report := diagnostics.Collect(statePath)

	switch doctorOutput {
	case "json":
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		cmd.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		cmd.Print(string(out))
	case "text":
		printTextReport(cmd, report)
	default:
		return fmt.Errorf("unknown output format %q", doctorOutput)
	}
	return nil
}

func printTextReport(cmd *cobra.Command, r diagnostics.Report) {
	cmd.Printf("go:      %s (%s/%s)\n", r.GoVersion, r.OS, r.Arch)
	if r.CPUModel != "" {
		cmd.Printf("cpu:     %s (%d cores, %d threads)\n", r.CPUModel, r.CPUCores, r.NumCPU)
	} else {
		cmd.Printf("cpu:     %d threads\n", r.NumCPU)
	}
	cmd.Printf("memory:  %.0f MB used of %.0f MB (%.1f%%)\n", r.MemUsedMB, r.MemTotalMB, r.MemPercent)
	cmd.Printf("disk:    %.1f GB used of %.1f GB (%.1f%%)\n", r.DiskUsedGB, r.DiskTotalGB, r.DiskPercent)
	if r.LoadAvg1 > 0 || r.LoadAvg5 > 0 {
		cmd.Printf("load:    %.2f %.2f %.2f\n", r.LoadAvg1, r.LoadAvg5, r.LoadAvg15)
	}
	for _, gpu := range r.GPUs {
		cmd.Printf("gpu:     %s\n", gpu)
	}
	if r.GitAvailable {
		cmd.Printf("git:     %s\n", r.GitVersion)
	} else {
		cmd.Println("git:     NOT FOUND (workflows require git worktrees)")
	}
}
