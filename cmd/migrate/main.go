package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"tradinta-forging/internal/config"
	"tradinta-forging/internal/database"
	"tradinta-forging/internal/database/migrations"
	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration (postgres) or drop all tables (sqlite)")
	seed := flag.Bool("seed", false, "also load seed products")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()
	if *seed {
		cfg.Database.SeedData = true
	}

	log := logger.NewLogger("forging-migrate", cfg.Log.Dir)
	defer log.Close()

	ctx := context.Background()
	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.Driver == database.DriverSQLite {
		if *down {
			err = db.DropSchema(ctx, bunDB)
		} else {
			err = db.CreateSchema(ctx, bunDB)
			if err == nil && cfg.Database.SeedData {
				err = db.SeedProducts(ctx, bunDB)
			}
		}
		if err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
		log.Info("MIGRATE", "✅ SQLite schema updated")
		return
	}

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: cfg.Database.MigrationsDir,
		SeedData:      cfg.Database.SeedData,
	}, log)
	defer runner.Close()

	if *down {
		err = runner.MigrateDown()
	} else {
		err = runner.RunMigrations()
	}
	if err != nil {
		log.Error("MIGRATE", err.Error())
		runner.Close()
		os.Exit(1)
	}
	log.Info("MIGRATE", "✅ Migrations complete")
}
