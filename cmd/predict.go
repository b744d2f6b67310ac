package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/console"
	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

// predictionView mirrors the JSON shape of types.Prediction's exported
// fields, decoded loosely so the CLI doesn't import internal/types for
// a display-only concern.
type predictionView struct {
	PatternID  string
	Present    [][]string
	Future     [][]string
	Similarity float64
	Evidence   float64
	Frequency  int
	Potential  float64
}

func newPredictCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "get predictions for the session's current STM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := ensureSession(cmd)
			if err != nil {
				return err
			}

			var preds []predictionView
			url := apiURL(cmd, "/api/sessions/"+sessionID+"/predictions")
			if err := getJSON(url, &preds); err != nil {
				return err
			}

			renderPredictions(preds)
			return nil
		},
	}
	return cmd
}

// renderPredictions draws a table when stdout is a real terminal
// (containerd/console.ConsoleFromFile(os.Stdout) and its Size succeed),
// falling back to plain lines when piped — a redirected
// `katod predict > file` should not carry box-drawing characters.
func renderPredictions(preds []predictionView) {
	if len(preds) == 0 {
		fmt.Println("no predictions")
		return
	}

	stdout, err := console.ConsoleFromFile(os.Stdout)
	if err == nil {
		_, err = stdout.Size()
	}
	if err != nil {
		for _, p := range preds {
			fmt.Printf("%s\tsimilarity=%.3f\tfrequency=%d\tfuture=%s\n",
				p.PatternID, p.Similarity, p.Frequency, joinEvents(p.Future))
		}
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"pattern_id", "similarity", "evidence", "frequency", "potential", "future"})
	for _, p := range preds {
		table.Append([]string{
			truncatePatternID(p.PatternID),
			strconv.FormatFloat(p.Similarity, 'f', 3, 64),
			strconv.FormatFloat(p.Evidence, 'f', 3, 64),
			strconv.Itoa(p.Frequency),
			strconv.FormatFloat(p.Potential, 'f', 3, 64),
			joinEvents(p.Future),
		})
	}
	table.Render()
}

func joinEvents(events [][]string) string {
	parts := make([]string, len(events))
	for i, e := range events {
		parts[i] = strings.Join(e, "+")
	}
	return strings.Join(parts, " ")
}

// truncatePatternID keeps the table narrow regardless of terminal
// width, using go-runewidth so multi-byte runes in a pattern's hex
// digest never get cut mid-rune.
func truncatePatternID(id string) string {
	const maxWidth = 24
	if runewidth.StringWidth(id) <= maxWidth {
		return id
	}
	return runewidth.Truncate(id, maxWidth, "…")
}
