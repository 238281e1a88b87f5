package main

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	logx "github.com/hybridqa-core/server/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	envFile   string
	corpusDir string
	appCfg    AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "hybridqa",
	Short: "Multi-hop question answering over tables and linked passages",
	Long: `hybridqa answers questions that need evidence from both tables and the
Wikipedia passages their cells link to. A planner routes each turn to table
extraction or analysis until the evidence suffices or the session runs out
of hops or time.`,
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&corpusDir, "corpus", "", "corpus directory or YAML file (overrides CORPUS_DIR)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	envErr := godotenv.Load(envFile)

	if err := envconfig.Process("", &appCfg); err != nil {
		return err
	}
	if corpusDir != "" {
		appCfg.Corpus.Dir = corpusDir
	}

	logx.Init(logx.LoggerOpts{Environment: appCfg.Environment, Writer: cmd.ErrOrStderr()})
	if envErr != nil {
		logx.Debug().Err(envErr).Str("file", envFile).Msg("No dotenv file loaded")
	}
	return nil
}
