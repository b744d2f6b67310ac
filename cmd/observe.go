package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newObserveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "observe [strings...]",
		Short: "observe one event (each argument becomes one symbol)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := ensureSession(cmd)
			if err != nil {
				return err
			}

			var result struct {
				AutoLearnedPattern string `json:"AutoLearnedPattern"`
				STMLength          int    `json:"STMLength"`
			}
			url := apiURL(cmd, "/api/sessions/"+sessionID+"/observe")
			if err := postJSON(url, map[string]interface{}{"strings": args}, &result); err != nil {
				return err
			}

			fmt.Printf("session=%s stm_length=%d\n", sessionID, result.STMLength)
			if result.AutoLearnedPattern != "" {
				fmt.Printf("auto-learned: %s\n", result.AutoLearnedPattern)
			}
			return nil
		},
	}
	return cmd
}
