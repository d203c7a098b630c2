package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/codecomply/config"
	"github.com/c360studio/codecomply/export"
	"github.com/c360studio/codecomply/storage"
)

func historyCmd(global *globalOptions) *cobra.Command {
	var (
		natsURL string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "history [drawing]",
		Short: "Show stored reports",
		Long: `History lists the drawings that have a stored report or, given a
drawing name, prints its latest report. Reports are stored by check
when nats.url and nats.history_bucket are configured.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(global.logLevel, cmd.ErrOrStderr())
			cfg, err := config.NewLoader(logger).Load(global.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("nats-url") {
				cfg.NATS.URL = natsURL
			}
			if cfg.NATS.URL == "" {
				return fmt.Errorf("history needs a NATS server: use --nats-url or nats.url")
			}
			bucket := cfg.NATS.HistoryBucket
			if bucket == "" {
				bucket = storage.BucketReports
			}

			store, err := storage.Connect(cmd.Context(), storage.Options{
				URL:     cfg.NATS.URL,
				Bucket:  bucket,
				Timeout: cfg.NATS.Timeout,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				drawings, err := store.Drawings(cmd.Context())
				if err != nil {
					return err
				}
				for _, d := range drawings {
					fmt.Fprintln(out, d)
				}
				return nil
			}

			f := cfg.Output.Format
			if cmd.Flags().Changed("format") {
				f = format
			}
			ff, err := export.ParseFormat(f)
			if err != nil {
				return err
			}
			doc, err := store.Latest(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return export.Write(out, *doc, ff)
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server holding the history bucket")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Report format (json, yaml, text, markdown)")
	return cmd
}
