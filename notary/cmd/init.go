package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/LumeraProtocol/notary/notary/config"
	"github.com/spf13/cobra"
)

var (
	forceInit   bool
	skipPrompts bool
	flagAPIPort int
	flagBackend string
	flagIPFSURL string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a notary configuration",
	Long: `Create a configuration file and data directory.

The command asks for the API address and the content store backend. With
--yes it writes defaults, overridden by the flags given.

Example:
  notary init
  notary init --yes --content-store ipfs --ipfs-url http://127.0.0.1:5001`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := resolvePaths(); err != nil {
			return err
		}
		if _, err := os.Stat(cfgFile); err == nil && !forceInit {
			return fmt.Errorf("config already exists at %s\nUse --force to overwrite", cfgFile)
		}

		cfg := config.CreateDefaultConfig(baseDir)
		applyInitFlags(cmd, cfg)
		if !skipPrompts {
			if err := promptConfig(cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.EnsureDirs(); err != nil {
			return err
		}
		if err := config.SaveConfig(cfg, cfgFile); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Configuration saved to %s\n", cfgFile)
		fmt.Printf("Data directory: %s\n", cfg.GetDataDir())
		fmt.Println("\nStart the notary with:")
		fmt.Println("  notary start")
		return nil
	},
}

func applyInitFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("api-port") {
		cfg.API.Port = flagAPIPort
	}
	if cmd.Flags().Changed("content-store") {
		cfg.ContentStore.Backend = flagBackend
	}
	if cmd.Flags().Changed("ipfs-url") {
		cfg.ContentStore.IPFSAPIURL = flagIPFSURL
	}
}

func promptConfig(cfg *config.Config) error {
	if err := survey.AskOne(&survey.Input{
		Message: "Enter API listen address:",
		Default: cfg.API.Host,
	}, &cfg.API.Host); err != nil {
		return err
	}

	var portStr string
	if err := survey.AskOne(&survey.Input{
		Message: "Enter API port:",
		Default: strconv.Itoa(cfg.API.Port),
	}, &portStr); err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid API port: %s", portStr)
	}
	cfg.API.Port = port

	if err := survey.AskOne(&survey.Select{
		Message: "Choose content store:",
		Options: []string{config.ContentBackendLocal, config.ContentBackendIPFS},
		Default: cfg.ContentStore.Backend,
		Help:    "local: SQLite blobs in the data directory, ipfs: a Kubo node's RPC API",
	}, &cfg.ContentStore.Backend); err != nil {
		return err
	}
	if cfg.ContentStore.Backend == config.ContentBackendIPFS {
		if err := survey.AskOne(&survey.Input{
			Message: "Enter IPFS RPC API URL:",
			Default: cfg.ContentStore.IPFSAPIURL,
		}, &cfg.ContentStore.IPFSAPIURL, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
	initCmd.Flags().BoolVarP(&skipPrompts, "yes", "y", false, "accept defaults without prompting")
	initCmd.Flags().IntVar(&flagAPIPort, "api-port", config.DefaultAPIPort, "API port")
	initCmd.Flags().StringVar(&flagBackend, "content-store", config.DefaultContentBackend, "content store backend (local|ipfs)")
	initCmd.Flags().StringVar(&flagIPFSURL, "ipfs-url", config.DefaultIPFSAPIURL, "IPFS RPC API URL")
}
