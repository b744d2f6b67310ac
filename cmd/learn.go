package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLearnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "manually learn the session's current STM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := ensureSession(cmd)
			if err != nil {
				return err
			}

			var result struct {
				PatternID string `json:"pattern_id"`
			}
			url := apiURL(cmd, "/api/sessions/"+sessionID+"/learn")
			if err := postJSON(url, nil, &result); err != nil {
				return err
			}

			if result.PatternID == "" {
				fmt.Println("nothing to learn: STM is empty")
				return nil
			}
			fmt.Printf("learned: %s\n", result.PatternID)
			return nil
		},
	}
	return cmd
}
