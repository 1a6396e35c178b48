package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ameliahq/amelia/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default .amelia.yaml into the current directory.

The file is written atomically; an existing config is only replaced
with --force.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"overwrite an existing config file")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := ".amelia.yaml"
	if cfgFile != "" {
		path = cfgFile
	}

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	if err := config.AtomicWrite(path, []byte(config.DefaultConfigYAML)); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	cmd.Printf("wrote %s\n", path)
	return nil
}
