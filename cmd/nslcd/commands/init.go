package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/salahcoronya/nss-pam-ldapd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample nslcd configuration file.

By default, the configuration file is created at /etc/nslcd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  nslcd init

  # Initialize with custom path
  nslcd init --config /srv/nslcd/config.yaml

  # Force overwrite existing config
  nslcd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), configPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set directory.uris, directory.bases and the bind credentials")
	fmt.Println("  2. Start the daemon with: nslcd start")
	fmt.Printf("  3. Or specify custom config: nslcd start --config %s\n", configPath)
	return nil
}
