package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-cutoffs/pkg/models"
)

var catalogKind string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage canonical colleges and courses",
}

var catalogLoadCmd = &cobra.Command{
	Use:   "load <entries.jsonl>",
	Short: "Upsert canonical entries from a JSONL file",
	Long: `Upserts one canonical college or course per line. Courses without an
explicit stream, level or branch are classified from their name.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogLoad,
}

func init() {
	catalogLoadCmd.Flags().StringVar(&catalogKind, "kind", string(models.EntityKindCollege), "entry kind (college, course)")
	catalogCmd.AddCommand(catalogLoadCmd)
}

func runCatalogLoad(cmd *cobra.Command, args []string) error {
	who, err := caller()
	if err != nil {
		return err
	}
	kind := models.EntityKind(catalogKind)
	if !kind.IsValid() {
		return fmt.Errorf("unknown kind %q", catalogKind)
	}

	ctx, cancel := commandContext()
	defer cancel()

	var upsert func(*app) (int, error)
	switch kind {
	case models.EntityKindCollege:
		entries, err := readJSONL[models.College](cmd, args[0])
		if err != nil {
			return err
		}
		upsert = func(a *app) (int, error) {
			for i := range entries {
				if _, err := a.svc.Catalog.UpsertCollege(ctx, who, &entries[i]); err != nil {
					return i, fmt.Errorf("college %q: %w", entries[i].ID, err)
				}
			}
			return len(entries), nil
		}
	default:
		entries, err := readJSONL[models.Course](cmd, args[0])
		if err != nil {
			return err
		}
		upsert = func(a *app) (int, error) {
			for i := range entries {
				if _, err := a.svc.Catalog.UpsertCourse(ctx, who, &entries[i]); err != nil {
					return i, fmt.Errorf("course %q: %w", entries[i].ID, err)
				}
			}
			return len(entries), nil
		}
	}

	a, err := boot(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := upsert(a)
	logger.Info("Catalog load finished", zap.String("kind", string(kind)), zap.Int("upserted", n))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "upserted %d %s entries\n", n, kind)
	return nil
}
