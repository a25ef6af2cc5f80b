package sqlite

import (
	"fmt"
	"log"
	"os"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Open the store directly; migrations manage the schema, so no
	// startup version check here.
	store, err := Open(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	switch action {
	case "up":
		handleMigrateUp(store)

	case "down":
		handleMigrateDown(store)

	case "status":
		handleMigrateStatus(store)

	case "version":
		if len(args) < 2 {
			log.Fatal("Usage: gazeline migrate version <version_number>")
		}
		handleMigrateVersion(store, args[1])

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: gazeline migrate force <version_number>")
		}
		handleMigrateForce(store, args[1])

	case "baseline":
		if len(args) < 2 {
			log.Fatal("Usage: gazeline migrate baseline <version_number>")
		}
		handleMigrateBaseline(store, args[1])

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(store *Store) {
	log.Printf("Running migrations...")
	if err := store.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	// Show current version
	version, dirty, _ := store.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(store *Store) {
	log.Printf("Rolling back one migration...")
	if err := store.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	// Show current version
	version, dirty, _ := store.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(store *Store) {
	version, dirty, err := store.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	status, err := store.GetMigrationStatus()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	latest, err := LatestMigrationVersion()
	if err != nil {
		log.Fatalf("Failed to get latest migration version: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Latest available: %d\n", latest)
	fmt.Printf("Dirty: %v\n", dirty)
	fmt.Printf("Schema migrations table exists: %v\n", status["schema_migrations_exists"])

	if dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any issues")
		fmt.Println("  3. Run: gazeline migrate force <version>")
	} else if version < latest {
		fmt.Printf("\n⚠️  Database is %d version(s) behind. Run 'gazeline migrate up' to update.\n", latest-version)
	} else {
		fmt.Println("\n✓ Database is up to date!")
	}
}

// handleMigrateVersion migrates to a specific version
func handleMigrateVersion(store *Store, versionStr string) {
	var targetVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &targetVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Migrating to version %d...", targetVersion)
	if err := store.MigrateTo(targetVersion); err != nil {
		log.Fatalf("Migration to version %d failed: %v", targetVersion, err)
	}
	log.Printf("✓ Migrated to version %d successfully", targetVersion)
}

// handleMigrateForce forces the migration version (recovery only)
func handleMigrateForce(store *Store, versionStr string) {
	var forceVersion int
	if _, err := fmt.Sscanf(versionStr, "%d", &forceVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	fmt.Printf("⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Println("This should only be used to recover from a dirty migration state.")
	fmt.Print("Continue? [y/N]: ")

	var response string
	fmt.Scanln(&response)
	if response != "y" && response != "Y" {
		log.Println("Aborted")
		os.Exit(0)
	}

	if err := store.MigrateForce(forceVersion); err != nil {
		log.Fatalf("Force migration failed: %v", err)
	}
	log.Printf("✓ Migration version forced to %d", forceVersion)
}

// handleMigrateBaseline sets the baseline version without running migrations
func handleMigrateBaseline(store *Store, versionStr string) {
	var baselineVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &baselineVersion); err != nil {
		log.Fatalf("Invalid version number: %s", versionStr)
	}

	log.Printf("Baselining database at version %d...", baselineVersion)
	if err := store.BaselineAtVersion(baselineVersion); err != nil {
		log.Fatalf("Baseline failed: %v", err)
	}
	log.Printf("✓ Database baselined at version %d", baselineVersion)
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp() {
	fmt.Println("Database Migration Commands")
	fmt.Println()
	fmt.Println("Usage: gazeline migrate <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up              Apply all pending migrations")
	fmt.Println("  down            Rollback one migration")
	fmt.Println("  status          Show current migration status and version")
	fmt.Println("  version <N>     Migrate to specific version N")
	fmt.Println("  force <N>       Force migration version to N (recovery only)")
	fmt.Println("  baseline <N>    Set migration version to N without running migrations")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  gazeline migrate up")
	fmt.Println("  gazeline migrate down")
	fmt.Println("  gazeline migrate status")
	fmt.Println("  gazeline migrate version 2")
	fmt.Println("  gazeline migrate force 1")
	fmt.Println("  gazeline migrate baseline 1")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db <path>    Path to the session database (default: gazeline.db)")
	fmt.Println()
	fmt.Println("For more information, see:")
	fmt.Println("  - internal/gaze/storage/sqlite/migrations/README.md")
}
