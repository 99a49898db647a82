package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/spf13/cobra"
)

var logEnv string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the notary API",
	Long:  `Start the notary using the configuration in <basedir>/config.yml.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		logtrace.Setup("notary", logEnv, logtrace.ParseLevel(appConfig.LogLevel))
		defer logtrace.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logtrace.CtxWithCorrelationID(ctx, "notary-start")

		logtrace.Info(ctx, "Starting notary with configuration", logtrace.Fields{
			"config_file":   cfgFile,
			"data_dir":      appConfig.GetDataDir(),
			"content_store": appConfig.ContentStore.Backend,
			"api_port":      appConfig.API.Port,
		})

		node, err := NewNode(ctx, appConfig)
		if err != nil {
			logtrace.Error(ctx, "Failed to initialize notary", logtrace.Fields{logtrace.FieldError: err.Error()})
			return err
		}
		defer node.Close(context.WithoutCancel(ctx))

		return node.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringVar(&logEnv, "log-env", "prod", "log format: dev (console) or prod (JSON)")
}
