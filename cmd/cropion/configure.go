package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shivam-nitt/CropionApp/pkg/config"
)

var configureServer string

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set the default collection server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configureServer == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Println("Server URL:", cfg.ServerURL)
			return nil
		}

		cfg := &config.Config{ServerURL: configureServer}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Println("Saved server URL:", configureServer)
		return nil
	},
}

func init() {
	configureCmd.Flags().StringVar(&configureServer, "server", "", "server base URL to store")
	rootCmd.AddCommand(configureCmd)
}
