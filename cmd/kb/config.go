package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/kbase/internal/config"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create configuration",
	Long: `Show or create configuration.

Values are read from the config file, then overridden by environment
variables (ANTHROPIC_API_KEY, OPENAI_API_KEY, KB_DATA_DIR, KB_LISTEN_ADDR).
A .env file in the working directory is loaded first.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML with credentials masked",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := yaml.Marshal(mustLoadConfig().Masked())
	if err != nil {
		exitWithError(ExitError, "encoding config: %v", err)
	}
	fmt.Print(string(out))
	return nil
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GlobalConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		exitWithError(ExitConfigError, "config already exists: %s", path)
	}
	if err := config.Default().Save(path); err != nil {
		exitWithError(ExitConfigError, "writing config: %v", err)
	}

	if humanOutput {
		fmt.Printf("Wrote %s\n", path)
		return nil
	}
	return outputJSON(StatusResponse{Status: "created", Path: path})
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.GlobalConfigPath()
		}
		if humanOutput {
			fmt.Println(path)
			return
		}
		outputJSON(StatusResponse{Status: "ok", Path: path})
	},
}
