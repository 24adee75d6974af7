package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/accessguard/internal/config"
	"github.com/gzhole/accessguard/internal/rulepack"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage rule packs",
	Long: `Manage AccessGuard rule packs.

Rule packs are YAML files of declarative detectors: each detector matches
records on path, method, status, user agent and other fields. Packs live in
~/.accessguard/packs/ and run alongside the built-in categories.

Examples:
  accessguard pack list                 # List installed packs
  accessguard pack enable scanners      # Enable a pack
  accessguard pack disable scanners     # Disable a pack
  accessguard pack show scanners        # Show pack details`,
}

var packListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed rule packs",
	RunE:  packList,
}

var packEnableCmd = &cobra.Command{
	Use:   "enable <pack-name>",
	Short: "Enable a disabled rule pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packEnable,
}

var packDisableCmd = &cobra.Command{
	Use:   "disable <pack-name>",
	Short: "Disable a rule pack (prefix with underscore)",
	Args:  cobra.ExactArgs(1),
	RunE:  packDisable,
}

var packShowCmd = &cobra.Command{
	Use:   "show <pack-name>",
	Short: "Show details of a rule pack",
	Args:  cobra.ExactArgs(1),
	RunE:  packShow,
}

func init() {
	packCmd.AddCommand(packListCmd)
	packCmd.AddCommand(packEnableCmd)
	packCmd.AddCommand(packDisableCmd)
	packCmd.AddCommand(packShowCmd)
	rootCmd.AddCommand(packCmd)
}

func packsDir() (string, error) {
	cfg, err := config.Load(configPath, logPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(cfg.PacksDir, 0700); err != nil {
		return "", err
	}
	return cfg.PacksDir, nil
}

// findPack returns the file for name, trying .yaml then .yml, enabled then
// disabled.
func findPack(dir, name string, enabled bool) (string, bool) {
	prefix := ""
	if !enabled {
		prefix = "_"
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(dir, prefix+name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func packList(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	_, infos, err := rulepack.LoadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to load packs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No rule packs installed.")
		fmt.Fprintf(out, "\nTo install packs, copy YAML files to: %s\n", dir)
		return nil
	}

	fmt.Fprintln(out, "Installed Rule Packs:")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, info := range infos {
		status := "[on] "
		if !info.Enabled {
			status = "[off]"
		}
		fmt.Fprintf(out, "  %s  %-25s %s\n", status, info.Name, info.Description)
		if info.Version != "" {
			fmt.Fprintf(out, "         v%s by %s  (%d detectors)\n", info.Version, info.Author, info.DetectorCount)
		}
		if info.Error != "" {
			fmt.Fprintf(out, "         error: %s\n", info.Error)
		}
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	fmt.Fprintf(out, "\nPacks directory: %s\n", dir)
	return nil
}

func packEnable(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	out := cmd.OutOrStdout()
	if disabledPath, ok := findPack(dir, name, false); ok {
		enabledPath := filepath.Join(dir, strings.TrimPrefix(filepath.Base(disabledPath), "_"))
		if err := os.Rename(disabledPath, enabledPath); err != nil {
			return fmt.Errorf("failed to enable pack: %w", err)
		}
		fmt.Fprintf(out, "Pack '%s' enabled.\n", name)
		return nil
	}

	if _, ok := findPack(dir, name, true); ok {
		fmt.Fprintf(out, "Pack '%s' is already enabled.\n", name)
		return nil
	}

	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packDisable(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	out := cmd.OutOrStdout()
	if enabledPath, ok := findPack(dir, name, true); ok {
		disabledPath := filepath.Join(dir, "_"+filepath.Base(enabledPath))
		if err := os.Rename(enabledPath, disabledPath); err != nil {
			return fmt.Errorf("failed to disable pack: %w", err)
		}
		fmt.Fprintf(out, "Pack '%s' disabled.\n", name)
		return nil
	}

	if _, ok := findPack(dir, name, false); ok {
		fmt.Fprintf(out, "Pack '%s' is already disabled.\n", name)
		return nil
	}

	return fmt.Errorf("pack '%s' not found in %s", name, dir)
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}

	name := args[0]
	path, ok := findPack(dir, name, true)
	if !ok {
		if path, ok = findPack(dir, name, false); !ok {
			return fmt.Errorf("pack '%s' not found in %s", name, dir)
		}
	}

	pack, err := rulepack.LoadFile(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", pack.Name, pack.Version)
	if pack.Description != "" {
		fmt.Fprintf(out, "  %s\n", pack.Description)
	}
	fmt.Fprintf(out, "  File: %s\n\n", path)
	for _, def := range pack.Detectors {
		d, err := rulepack.Compile(def)
		if err != nil {
			fmt.Fprintf(out, "  %-24s invalid: %v\n", def.Key, err)
			continue
		}
		match := strings.ToLower(def.Match)
		if match == "" {
			match = rulepack.MatchAll
		}
		fmt.Fprintf(out, "  %-24s %-8s %s (%d conditions, match %s)\n",
			d.Key(), d.Severity(), d.Name(), len(def.Conditions), match)
	}
	return nil
}
