package main

import (
	"context"
	"os"

	"github.com/julienbonastre/ebay-listing-publisher/internal/config"
	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "ebay-listing-publisher",
	Short: "Connect an eBay seller account and publish listings",
	Long: `ebay-listing-publisher manages the eBay OAuth connection of a seller
account and publishes listing drafts through the inventory API
(inventory item, offer, publish).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.AddCommand(serveCmd, publishCmd, statusCmd)
}

// loadApp reads configuration and wires the application
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
