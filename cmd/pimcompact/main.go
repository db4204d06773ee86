// pimcompact is a standalone maintenance tool that runs the same
// compaction pass pkg/resource.Context.Compact performs opportunistically
// during normal operation, for an operator to invoke directly against a
// stopped resource's databases (for example from cron, or after restoring
// a backup). It takes a backup-before-mutating precaution, copying the
// database file aside before compacting it in place.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/solstice-pim/resourcesync/pkg/datastore"
	"github.com/solstice-pim/resourcesync/pkg/entitystore"
)

var (
	storageRoot = flag.String("storage-root", "/var/lib/resourcesync", "directory holding resource instance databases")
	instanceID  = flag.String("instance-id", "", "resource instance id to compact (required)")
	dryRun      = flag.Bool("dry-run", false, "report an upper-bound estimate of revisions eligible for removal without making changes")
	backupPath  = flag.String("backup", "", "path to back up the main database before compacting (default: <db>.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("resourcesync compaction tool")
	log.Println("============================")

	if *instanceID == "" {
		log.Fatal("-instance-id is required")
	}

	dbPath := filepath.Join(*storageRoot, *instanceID)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("database not found at %s", dbPath)
	}

	log.Printf("database: %s", dbPath)
	log.Printf("dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("failed to create backup: %v", err)
		}
		log.Println("backup created")
	}

	db, err := datastore.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	store := entitystore.New(entitystore.DefaultRegistry())
	if err := compactAll(db, store, *dryRun); err != nil {
		log.Fatalf("compaction failed: %v", err)
	}

	if *dryRun {
		log.Println("dry run completed, no changes made")
	} else {
		log.Println("compaction completed successfully")
	}
}

func compactAll(db *datastore.Database, store *entitystore.Store, dryRun bool) error {
	for typeName := range store.Registry() {
		removed, err := compactType(db, store, typeName, dryRun)
		if err != nil {
			return fmt.Errorf("compacting %s: %w", typeName, err)
		}
		if dryRun {
			log.Printf("[DRY RUN] %s: up to %d revisions eligible for compaction (estimate, not an exact count)", typeName, removed)
		} else {
			log.Printf("%s: removed %d superseded revisions", typeName, removed)
		}
	}
	return nil
}

func compactType(db *datastore.Database, store *entitystore.Store, typeName string, dryRun bool) (int, error) {
	if dryRun {
		tx, err := db.BeginRead()
		if err != nil {
			return 0, err
		}
		defer tx.Abort()
		maxRev, err := store.MaxRevision(tx)
		if err != nil {
			return 0, err
		}
		cleaned, err := store.CleanedUpRevision(tx)
		if err != nil {
			return 0, err
		}
		if maxRev <= cleaned {
			return 0, nil
		}
		return int(maxRev - cleaned), nil
	}

	tx, err := db.BeginWrite()
	if err != nil {
		return 0, err
	}
	maxRev, err := store.MaxRevision(tx)
	if err != nil {
		tx.Abort()
		return 0, err
	}
	removed, err := store.Compact(tx, typeName, maxRev)
	if err != nil {
		tx.Abort()
		return 0, err
	}
	if err := store.SetCleanedUpRevision(tx, maxRev); err != nil {
		tx.Abort()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0o600)
}
