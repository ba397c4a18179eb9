package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"

	"github.com/spf13/cobra"

	"github.com/rahul/reenact/pkg/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "reenact",
	Short:         "Reenact: replay recorded desktop workflows on a changing screen",
	Long:          "Records a workflow once by demonstration and replays it later, locating every target again on the live screen.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to the JSON config file")
}

// loadConfig reads the config file. A missing file yields the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] %s not found, using defaults", configPath)
		cfg = config.Default()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
