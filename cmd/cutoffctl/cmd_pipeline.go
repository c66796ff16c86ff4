package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/classifier"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
	"github.com/ekaya-inc/ekaya-cutoffs/pkg/services"
)

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 1 << 20

var (
	forceRescore   bool
	rebuildCollege string
	rebuildCourse  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply storage migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		a, err := boot(ctx)
		if err != nil {
			return err
		}
		a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), "storage is up to date")
		return nil
	},
}

var classifyCmd = &cobra.Command{
	Use:   "classify <course name>...",
	Short: "Classify raw course names into stream, level and branch",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := make([]models.Classification, 0, len(args))
		for _, name := range args {
			out = append(out, classifier.Classify(name))
		}
		return printJSON(cmd, out)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <rows.jsonl>",
	Short: "Ingest a JSONL file of raw cutoff rows",
	Long: `Reads one raw cutoff row per line, reconciles the distinct college and
course names against the catalog and writes the cutoffs. Use "-" to read
from stdin. Prints the run summary as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute warehouse rollups",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := caller()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		a, err := boot(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.svc.Warehouse.RebuildRollups(ctx, who, models.RebuildScope{CollegeID: rebuildCollege, CourseID: rebuildCourse})
		if err != nil {
			return err
		}
		return printJSON(cmd, stats)
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from the catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		a, err := boot(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.svc.Catalog.Reindex(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "indexed %d catalog entries\n", n)
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&forceRescore, "force-rescore", false, "re-score names that were previously rejected")
	rebuildCmd.Flags().StringVar(&rebuildCollege, "college", "", "rebuild a single college")
	rebuildCmd.Flags().StringVar(&rebuildCourse, "course", "", "rebuild a single course")
}

func runIngest(cmd *cobra.Command, args []string) error {
	who, err := caller()
	if err != nil {
		return err
	}

	rows, err := readJSONL[models.RawIngestRow](cmd, args[0])
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.svc.Ingest.IngestBatch(ctx, who, rows, services.IngestOptions{ForceRescore: forceRescore})
	if err != nil {
		return err
	}
	logger.Info("Ingest finished",
		zap.String("run_id", summary.RunID.String()),
		zap.Int("accepted", summary.RowsAccepted),
		zap.Int("rejected", summary.RowsRejected))
	return printJSON(cmd, summary)
}

// readJSONL decodes one T per non-blank line of path, or of stdin for "-".
func readJSONL[T any](cmd *cobra.Command, path string) ([]T, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return decodeJSONL[T](r)
}

func decodeJSONL[T any](r io.Reader) ([]T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var out []T
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
