package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"mavedb/internal/variant"

	"github.com/spf13/cobra"
)

// validateCmd runs the variant validator over local files, the same way an
// upload is checked before it is queued.
func validateCmd() *cobra.Command {
	var scoresPath, countsPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a scores file and an optional counts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFiles(cmd.OutOrStdout(), scoresPath, countsPath)
		},
	}
	cmd.Flags().StringVar(&scoresPath, "scores", "", "path to the scores csv")
	cmd.Flags().StringVar(&countsPath, "counts", "", "path to the counts csv")
	_ = cmd.MarkFlagRequired("scores")
	return cmd
}

func parseFile(path string, parse func(io.Reader) (*variant.Dataset, error)) (*variant.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ds, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

func validateFiles(out io.Writer, scoresPath, countsPath string) error {
	scores, err := parseFile(scoresPath, variant.ParseScores)
	if err != nil {
		return err
	}

	var counts *variant.Dataset
	if countsPath != "" {
		if counts, err = parseFile(countsPath, variant.ParseCounts); err != nil {
			return err
		}
	}

	merged, err := variant.Merge(scores, counts)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "primary column: %s\n", merged.Primary)
	fmt.Fprintf(out, "score columns: %s\n", strings.Join(merged.ScoreColumns, ", "))
	if len(merged.CountColumns) > 0 {
		fmt.Fprintf(out, "count columns: %s\n", strings.Join(merged.CountColumns, ", "))
	}
	fmt.Fprintf(out, "variants: %d\n", len(merged.Records))
	return nil
}
