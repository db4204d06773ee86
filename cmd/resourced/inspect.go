package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solstice-pim/resourcesync/pkg/config"
	"github.com/solstice-pim/resourcesync/pkg/log"
	"github.com/solstice-pim/resourcesync/pkg/resource"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect -f config.yaml",
	Short: "List dead-lettered entities for a resource",
	Long: `inspect opens the resource's databases (read-write, as start does)
without modifying them and prints
every command the pipeline rejected after repeated preprocessor failures
or a decode error. Nothing is built on top of this list beyond the
printout — reprocessing or discarding a dead letter is a manual,
out-of-band operation.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringP("file", "f", "", "YAML config file (required)")
	config.BindFlags(inspectCmd)
	_ = inspectCmd.MarkFlagRequired("file")
}

func runInspect(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	cfg, err := config.Load(filename)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.ApplyFlags(cfg, cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	rc, err := resource.New(cfg.StorageRoot, cfg.InstanceID, log.WithResource(cfg.InstanceID))
	if err != nil {
		return fmt.Errorf("failed to open resource: %w", err)
	}
	defer rc.Stop()

	records, err := rc.Pipeline().InspectDeadLetters()
	if err != nil {
		return fmt.Errorf("failed to inspect dead letters: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("no dead-lettered entities")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  type=%-12s uid=%-20s reason=%s\n",
			rec.Timestamp.Format("2006-01-02T15:04:05Z07:00"), rec.Type, rec.UID, rec.Reason)
	}
	return nil
}
