package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage OSS Pulse configuration",
	Long:  `View, validate and initialize configuration, and store GitHub tokens.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runConfigInit,
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token",
	Short: "Store a GitHub token in the OS keychain",
	Long: `Prompt for a GitHub token without echo and store it in the OS keychain,
falling back to ~/.config/osspulse/credentials.yaml when no keychain is available.`,
	RunE: runConfigSetToken,
}

var configDeleteTokenCmd = &cobra.Command{
	Use:   "delete-token",
	Short: "Remove the GitHub token from the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.NewKeyringManager(logger).DeleteGitHubToken(); err != nil {
			return err
		}
		fmt.Println("GitHub token removed from keychain")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configSetTokenCmd)
	configCmd.AddCommand(configDeleteTokenCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out, err := cfg.MaskedYAML()
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	result := cfg.Validate()
	for _, w := range result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if result.HasErrors() {
		return result
	}
	fmt.Println("configuration is valid")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, ".osspulse", "config.yaml")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func runConfigSetToken(cmd *cobra.Command, args []string) error {
	token, err := config.NewCredentialManager(logger).PromptGitHubToken()
	if err != nil {
		return err
	}
	fmt.Printf("stored token %s\n", config.MaskToken(token))
	return nil
}
