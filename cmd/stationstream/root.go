package stationstream

import (
	"fmt"
	"os"

	"github.com/edgeflare/stationstream/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   = zap.NewNop()
	v        = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "stationstream",
	Short: "Chicago transit station stream processor",
	Long: `stationstream consumes station change events, tags each station with its
line and keeps the result in a table backed by a compacted changelog topic.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if logger, err = newLogger(logLevel); err != nil {
			return err
		}
		if cfg, err = config.LoadWith(v, cfgFile); err != nil {
			return err
		}
		if used := v.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", zap.String("file", used))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		if versionFlag, _ := cmd.Flags().GetBool("version"); versionFlag {
			fmt.Println(config.Version)
			return
		}
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/stationstream.yaml)")
	f.StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	f.StringSlice("brokers", nil, "Kafka bootstrap brokers")
	f.String("schema-registry", "", "schema registry URL")
	f.String("format", "", "record format on the station topics (json, avro)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	bindFlags(rootCmd, map[string]string{
		"kafka.brokers":      "brokers",
		"schemaRegistry.url": "schema-registry",
		"stream.format":      "format",
	})

	rootCmd.AddCommand(streamCmd, topicsCmd, tableCmd, publishCmd)
}

// bindFlags binds config keys to the named flags of cmd.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		flag := cmd.PersistentFlags().Lookup(name)
		if flag == nil {
			flag = cmd.Flags().Lookup(name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}

// newLogger builds a production logger at level; "none" disables logging.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
