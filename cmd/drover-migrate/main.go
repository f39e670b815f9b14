package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/drover-io/drover/pkg/config"
	"github.com/drover-io/drover/pkg/storage"
	"github.com/drover-io/drover/pkg/types"
)

var (
	dsn       = flag.String("dsn", "", "PostgreSQL DSN (defaults to DROVER_DB_DSN, then the built-in default)")
	seedNodes = flag.Bool("seed-nodes", false, "Insert or update the system_resources row for this node")
	nodeName  = flag.String("node-name", "default-node", "Node name for -seed-nodes")
	totalCPUs = flag.Int("total-cpus", 32, "Total cpus for -seed-nodes")
	partition = flag.String("partition", "normal", "Partition for -seed-nodes")
	dropAll   = flag.Bool("drop", false, "Drop all tables before migrating (destructive, asks for confirmation)")
	dryRun    = flag.Bool("dry-run", false, "Show what would be done without making changes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	log.Println("Drover Database Migration Tool")
	log.Println("==============================")

	target := *dsn
	if target == "" {
		target = os.Getenv("DROVER_DB_DSN")
	}
	if target == "" {
		target = config.Default().Database.DSN
	}

	log.Printf("Dry run: %v", *dryRun)

	if *dryRun {
		log.Println("\n[DRY RUN] Would perform the following operations:")
		step := 1
		if *dropAll {
			log.Printf("%d. Drop tables: jobs, resource_allocations, system_resources", step)
			step++
		}
		log.Printf("%d. AutoMigrate tables: jobs, resource_allocations, system_resources", step)
		step++
		if *seedNodes {
			log.Printf("%d. Upsert system_resources row: node=%s cpus=%d partition=%s",
				step, *nodeName, *totalCPUs, *partition)
		}
		log.Println("\nRun without -dry-run to apply.")
		return
	}

	store, err := storage.NewPostgresStore(target, 5, 2)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if *dropAll {
		if !confirmDrop() {
			log.Println("Aborted.")
			return
		}
		log.Println("Dropping tables...")
		if err := store.DropTables(); err != nil {
			log.Fatalf("Failed to drop tables: %v", err)
		}
		log.Println("✓ Tables dropped")
	}

	log.Println("Migrating schema...")
	if err := store.Migrate(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✓ Schema migrated: jobs, resource_allocations, system_resources")

	if *seedNodes {
		res := &types.SystemResource{
			NodeName:  *nodeName,
			TotalCPUs: *totalCPUs,
			Partition: *partition,
			Available: true,
		}
		if err := store.UpsertSystemResource(res); err != nil {
			log.Fatalf("Failed to seed node: %v", err)
		}
		log.Printf("✓ Seeded node %s: %d cpus, partition %s", *nodeName, *totalCPUs, *partition)
	}

	log.Println("\n✓ Migration completed successfully")
}

// confirmDrop requires the operator to type out their intent before
// anything destructive runs.
func confirmDrop() bool {
	fmt.Print("This will DELETE all job history and allocations. Type 'yes' to continue: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
