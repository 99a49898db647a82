package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/LumeraProtocol/notary/notary/config"
	"github.com/LumeraProtocol/notary/notary/status"
	"github.com/spf13/cobra"
)

var (
	baseDir   string
	cfgFile   string
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "notary",
	Short: "Anchor files onto a ledger and verify them later",
	Long: `notary stores files in a content-addressed store and anchors an audit
record (name, size, declared hash, content id) onto a ledger. Any record id
can later be verified against the stored bytes.`,
	Version:       status.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&baseDir, "basedir", "d", "", fmt.Sprintf("base directory (default ~/%s)", config.DefaultBaseDir))
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default <basedir>/"+config.DefaultConfigFile+")")
}

// resolvePaths fills baseDir and cfgFile from flags and defaults.
func resolvePaths() error {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, config.DefaultBaseDir)
	}
	if cfgFile == "" {
		cfgFile = filepath.Join(baseDir, config.DefaultConfigFile)
	}
	return nil
}

func loadConfig() error {
	if err := resolvePaths(); err != nil {
		return err
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config (run 'notary init' first?): %w", err)
	}
	appConfig = cfg
	return nil
}
