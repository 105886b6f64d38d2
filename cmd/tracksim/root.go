// README: tracksim CLI; flags, config file and env binding.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tracksim",
	Short: "Simulates a delivery and prints live tracking snapshots",
	Long: `tracksim places an order in memory, walks it through the kitchen, hands it to a
simulated delivery agent and prints every tracking snapshot until the order is delivered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := loadOptions()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runScenario(ctx, opts, cmd.OutOrStdout())
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	def := defaultOptions()
	rootCmd.Flags().Float64("dest-lat", def.DestLat, "Destination latitude")
	rootCmd.Flags().Float64("dest-lng", def.DestLng, "Destination longitude")
	rootCmd.Flags().Float64("speed-mps", def.SpeedMPS, "Agent speed in m/s (0 uses fractional approach)")
	rootCmd.Flags().Float64("fraction", def.Fraction, "Share of remaining distance covered per tick")
	rootCmd.Flags().Duration("tick", def.Tick, "Simulator poll interval")
	rootCmd.Flags().Float64("threshold-m", def.ThresholdMeters, "Minimum movement before a new sample is emitted")
	rootCmd.Flags().Duration("debounce", def.Debounce, "Minimum time between emitted samples")
	rootCmd.Flags().Float64("arrive-m", def.ArriveMeters, "Distance at which the order is marked delivered")
	rootCmd.Flags().Duration("timeout", def.Timeout, "Give up after this long")
	rootCmd.Flags().String("format", def.Format, "Output format: text or json")

	_ = viper.BindPFlags(rootCmd.Flags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "read config:", err)
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
	viper.SetEnvPrefix("TRACKSIM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

type options struct {
	DestLat         float64       `mapstructure:"dest-lat"`
	DestLng         float64       `mapstructure:"dest-lng"`
	SpeedMPS        float64       `mapstructure:"speed-mps"`
	Fraction        float64       `mapstructure:"fraction"`
	Tick            time.Duration `mapstructure:"tick"`
	ThresholdMeters float64       `mapstructure:"threshold-m"`
	Debounce        time.Duration `mapstructure:"debounce"`
	ArriveMeters    float64       `mapstructure:"arrive-m"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Format          string        `mapstructure:"format"`
}

func defaultOptions() options {
	return options{
		DestLat:         27.7172,
		DestLng:         85.3240,
		SpeedMPS:        0,
		Fraction:        0.05,
		Tick:            500 * time.Millisecond,
		ThresholdMeters: 10,
		Debounce:        500 * time.Millisecond,
		ArriveMeters:    15,
		Timeout:         5 * time.Minute,
		Format:          "text",
	}
}

func loadOptions() (options, error) {
	opts := defaultOptions()
	hook := viper.DecoderConfigOption(func(c *mapstructure.DecoderConfig) {
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err := viper.Unmarshal(&opts, hook); err != nil {
		return options{}, fmt.Errorf("decode options: %w", err)
	}
	if opts.Format != "text" && opts.Format != "json" {
		return options{}, fmt.Errorf("unknown format %q", opts.Format)
	}
	return opts, nil
}

func execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
