// scanarchiver-repair is the off-line maintenance binary for the
// partition-repair tool: it walks an existing archive tree, samples each
// file's timestamp column, and moves any file that landed in the wrong
// UTC-day partition, per pkg/repair's classification.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/scanarchiver/pkg/partition"
	"github.com/cuemby/scanarchiver/pkg/repair"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scanarchiver-repair",
	Short: "Detect and fix misplaced partition files in an archive tree",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("root", ".", "Root of the archive tree to scan")
	rootCmd.Flags().Bool("dry-run", true, "Report planned actions without moving any file")
	rootCmd.Flags().Bool("backup", true, "Copy a file aside before moving it")
	rootCmd.Flags().Int("sample-size", 50, "Number of rows to sample per file")
	rootCmd.MarkFlagRequired("root")
}

func run(cmd *cobra.Command, args []string) error {
	root, _ := cmd.Flags().GetString("root")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backup, _ := cmd.Flags().GetBool("backup")
	sampleSize, _ := cmd.Flags().GetInt("sample-size")

	entries, err := buildCatalog(root)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}

	reader := repair.CSVTimestampReader{}
	var actions []repair.Action
	for _, entry := range entries {
		action, err := repair.Plan(reader, entry, sampleSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", entry.FilePath, err)
			continue
		}
		actions = append(actions, action)
		describeAction(action)
	}

	if dryRun {
		fmt.Println("dry run: no files moved")
		return nil
	}

	var moved []repair.ResolvedMove
	for _, action := range actions {
		m, err := applyAction(root, action, backup)
		if err != nil {
			return fmt.Errorf("apply action for %s: %w", action.Source.FilePath, err)
		}
		moved = append(moved, m...)
	}

	result, err := repair.VerifyAll(reader, moved, sampleSize)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !result.OK {
		fmt.Fprintf(os.Stderr, "verification failed for %s: row observed outside its partition (%v)\n",
			result.FilePath, result.Mismatch)
		os.Exit(2)
	}
	fmt.Println("repair complete, all moves verified")
	return nil
}

func describeAction(a repair.Action) {
	switch a.Kind {
	case repair.ActionSkip:
		fmt.Printf("skip       %s\n", a.Source.FilePath)
	case repair.ActionSkipNoop:
		fmt.Printf("skip-noop  %s (no timestamps read)\n", a.Source.FilePath)
	case repair.ActionMove:
		fmt.Printf("move       %s -> %s\n", a.Source.FilePath, a.Destination)
	case repair.ActionSplit:
		fmt.Printf("split      %s -> %s\n", a.Source.FilePath, strings.Join(a.SplitDays, ", "))
	}
}

func applyAction(root string, a repair.Action, backup bool) ([]repair.ResolvedMove, error) {
	switch a.Kind {
	case repair.ActionMove:
		dest, err := moveFile(root, a.Source.FilePath, a.Destination, backup)
		if err != nil {
			return nil, err
		}
		return []repair.ResolvedMove{{DestPath: dest, DestPartition: a.Destination, Column: a.Source.Column}}, nil
	case repair.ActionSplit:
		return nil, fmt.Errorf("split of %s spans %d partitions: row-level splitting requires a schema-aware encoder and is not automated here", a.Source.FilePath, len(a.SplitDays))
	default:
		return nil, nil
	}
}

// moveFile moves src into destPartition (relative to root), optionally
// leaving a ".bak" copy of the original behind, and returns the file's
// new absolute path.
func moveFile(root, src, destPartition string, backup bool) (string, error) {
	destDir := filepath.Join(root, destPartition)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", destDir, err)
	}
	dest := filepath.Join(destDir, filepath.Base(src))

	if backup {
		backupPath := src + ".bak"
		data, err := os.ReadFile(src)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", src, err)
		}
		if err := os.WriteFile(backupPath, data, 0o644); err != nil {
			return "", fmt.Errorf("write backup %s: %w", backupPath, err)
		}
	}

	if err := os.Rename(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// buildCatalog walks root and treats every regular file's containing
// directory (relative to root) as its current partition key.
func buildCatalog(root string) ([]repair.CatalogEntry, error) {
	var entries []repair.CatalogEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(path, ".bak") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relDir := partition.ToStorePath(filepath.Dir(rel))
		entries = append(entries, repair.CatalogEntry{
			FilePath:  path,
			Partition: relDir,
			Column:    columnFor(relDir),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func columnFor(partitionKey string) repair.Column {
	if strings.HasPrefix(partitionKey, "acs/") {
		return repair.ColumnSnapshotTime
	}
	return repair.ColumnEffectiveAt
}
