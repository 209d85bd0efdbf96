package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/signalhawk/classifier/pkg/classify"
	"github.com/telhawk-systems/signalhawk/cli/pkg/output"
	"github.com/telhawk-systems/signalhawk/common/models"
)

type classification struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Type      string `json:"type" yaml:"type"`
	Intensity int    `json:"intensity" yaml:"intensity"`
	Category  string `json:"category" yaml:"category"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify [event-json...]",
	Short: "Classify signal events offline",
	Long: `Classify one or more signal events with the same rules the classifier
stage applies. Events are read from the arguments, or one JSON document
per line from stdin when no arguments are given.`,
	Example: `  sigctl classify '{"type":"creature","intensity":4}'
  cat events.jsonl | sigctl classify -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs := args
		if len(inputs) == 0 {
			lines, err := readLines(cmd.InOrStdin())
			if err != nil {
				return err
			}
			inputs = lines
		}
		if len(inputs) == 0 {
			return fmt.Errorf("no events given")
		}

		results := make([]classification, 0, len(inputs))
		table := output.NewTable("ID", "TYPE", "INTENSITY", "CATEGORY")
		for i, in := range inputs {
			event, _, err := models.DecodeEvent([]byte(in))
			if err != nil {
				return fmt.Errorf("event %d: %w", i+1, err)
			}
			c := classification{
				ID:        event.ID,
				Type:      event.Type,
				Intensity: event.Intensity,
				Category:  classify.Classify(event).String(),
			}
			results = append(results, c)
			table.AddRow(orDash(c.ID), c.Type, strconv.Itoa(c.Intensity), c.Category)
		}

		return output.Render(cmd.OutOrStdout(), outputFormat, results, table)
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
