package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/callsheet/internal/media"
)

func newSweepCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired scratch files",
		Long:  "Deletes downloaded attachments older than media.retention from the scratch directory and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, envFile)
			if err != nil {
				return err
			}
			cache, err := media.NewCache(media.CacheOpts{
				Dir:        cfg.Media.ScratchDir,
				Downloader: noDownloads{},
				Retention:  cfg.Media.Retention,
			})
			if err != nil {
				return err
			}
			n := cache.Sweep(time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired file(s) from %s\n", n, cache.Dir())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to callsheet config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

// noDownloads backs a Cache that is only swept.
type noDownloads struct{}

func (noDownloads) Download(context.Context, string, io.Writer) error {
	return fmt.Errorf("downloads are not available in sweep")
}
