package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solstice-pim/resourcesync/pkg/config"
	"github.com/solstice-pim/resourcesync/pkg/log"
	"github.com/solstice-pim/resourcesync/pkg/resource"
)

var compactCmd = &cobra.Command{
	Use:   "compact -f config.yaml",
	Short: "Run one compaction sweep against a stopped resource's databases",
	Long: `compact opens the resource's databases, runs entitystore.Compact
for every registered entity type, and exits. Run it against a resource
that is not also running as a start process — opening the same bbolt
file from two processes will block.`,
	RunE: runCompact,
}

func init() {
	compactCmd.Flags().StringP("file", "f", "", "YAML config file (required)")
	config.BindFlags(compactCmd)
	_ = compactCmd.MarkFlagRequired("file")
}

func runCompact(cmd *cobra.Command, args []string) error {
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

	for typeName := range rc.Store().Registry() {
		if err := rc.Compact(typeName); err != nil {
			return fmt.Errorf("compacting %s: %w", typeName, err)
		}
		fmt.Printf("compacted %s\n", typeName)
	}

	return nil
}
