package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	apiKey     string
	jsonOutput bool
)

func defaultServer() string {
	if s := os.Getenv("HOOKCTL_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8090"
}

var rootCmd = &cobra.Command{
	Use:          "hookctl",
	Short:        "Operator CLI for the storefront webhook service",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "service base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("HOOKCTL_API_KEY"), "admin API key")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output raw JSON")

	rootCmd.AddCommand(emitCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(subsCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashKeyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
