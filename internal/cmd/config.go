package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/netlaunch/internal/config"
	"github.com/steveyegge/netlaunch/internal/exitcode"
	"github.com/steveyegge/netlaunch/internal/style"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupConfig,
	Short:   "Manage the listener config",
	RunE:    requireSubcommand,
	Long: `Manage the netlaunch config file.

The file is TOML by default; a .yaml or .yml extension selects YAML.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective config",
	Long: `Print the config with defaults applied.

Use --format to convert between TOML and YAML.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file for errors",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var (
	configInitForce  bool
	configShowFormat string
)

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")
	configShowCmd.Flags().StringVar(&configShowFormat, "format", "", "Output format: toml or yaml (default: the file's format)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return exitcode.Newf(exitcode.ErrAlreadyExists, "%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", style.SuccessPrefix, path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		style.PrintWarning("%s does not exist; showing defaults", path)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return exitcode.ConfigError(path, err)
	}

	format := config.FormatFor(path)
	switch configShowFormat {
	case "":
	case string(config.FormatTOML), string(config.FormatYAML):
		format = config.Format(configShowFormat)
	default:
		return exitcode.Newf(exitcode.ErrUsage, "unknown format %q (expected toml or yaml)", configShowFormat)
	}

	data, err := config.Encode(cfg, format)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return exitcode.ConfigError(path, err)
	}
	enabled := 0
	for _, l := range cfg.Listeners {
		if l.ShouldListen() {
			enabled++
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid (%d listener(s), %d enabled)\n",
		style.SuccessPrefix, path, len(cfg.Listeners), enabled)
	return nil
}
