package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/callsheet/internal/db"
	"github.com/zulandar/callsheet/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	var configPath, envFile string

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long:  "Manages the SQL database that backs the sql record store and the comment log.",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to callsheet config file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newDBMigrateCmd(&configPath, &envFile))
	cmd.AddCommand(newDBSeedCmd(&configPath, &envFile))
	return cmd
}

func newDBMigrateCmd(configPath, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update all tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, closeDB, err := openDB(*configPath, *envFile)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables\n", len(db.AllModels()))
			return nil
		},
	}
}

// seedFile is the YAML layout accepted by db seed.
type seedFile struct {
	Drivers []seedDriver `yaml:"drivers"`
}

type seedDriver struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Status  string `yaml:"status"`
	About   string `yaml:"about"`
	Number  string `yaml:"number"`
	Date    string `yaml:"date"`
	Notes   string `yaml:"notes"`
	Trailer bool   `yaml:"trailer"`
}

func newDBSeedCmd(configPath, envFile *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load driver records from a YAML file",
		Long: `Upserts driver records keyed by id. Existing comments are kept.

The file lists drivers under a top-level "drivers" key:

  drivers:
    - id: d1
      name: Alice Brown
      status: New
      trailer: true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			drivers, err := readSeedFile(file)
			if err != nil {
				return err
			}
			gormDB, closeDB, err := openDB(*configPath, *envFile)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := db.AutoMigrate(gormDB); err != nil {
				return err
			}
			n, err := db.SeedDrivers(gormDB, drivers)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d drivers\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with drivers, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func readSeedFile(path string) ([]models.Driver, error) {
	r, err := stdinOr(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var sf seedFile
	if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	drivers := make([]models.Driver, 0, len(sf.Drivers))
	for _, d := range sf.Drivers {
		drivers = append(drivers, models.Driver{
			ID:      d.ID,
			Name:    d.Name,
			Status:  d.Status,
			About:   d.About,
			Number:  d.Number,
			Date:    d.Date,
			Notes:   d.Notes,
			Trailer: d.Trailer,
		})
	}
	return drivers, nil
}

func openDB(configPath, envFile string) (*gorm.DB, func(), error) {
	cfg, err := loadConfig(configPath, envFile)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Store.SQL.Driver, cfg.Store.SQL.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {}
	if sqlDB, err := gormDB.DB(); err == nil {
		closeDB = func() { sqlDB.Close() }
	}
	return gormDB, closeDB, nil
}
