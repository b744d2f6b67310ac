// Package cmd implements the katod CLI: a cobra root command with
// serve/observe/predict/learn subcommands, grounded on main.go's
// cobra.CheckErr(cmd.NewCLI()...) entrypoint shape.
package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// NewCLI builds the katod root command.
func NewCLI() *cobra.Command {
	root := &cobra.Command{
		Use:   "katod",
		Short: "katod runs and drives the pattern-learning engine",
	}

	root.PersistentFlags().String("addr", "http://127.0.0.1:8080", "katod server address for client subcommands")
	root.PersistentFlags().String("kb", "default", "knowledge base id")
	root.PersistentFlags().String("session", "", "session id (client subcommands create one if empty)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newObserveCmd())
	root.AddCommand(newPredictCmd())
	root.AddCommand(newLearnCmd())
	return root
}

// httpClient is shared by every client subcommand (observe/predict/learn).
var httpClient = &http.Client{Timeout: 30 * time.Second}

func apiURL(cmd *cobra.Command, path string) string {
	addr, _ := cmd.Flags().GetString("addr")
	return fmt.Sprintf("%s%s", addr, path)
}
