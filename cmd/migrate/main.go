package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhawalhost/contactguard/internal/config"
	"github.com/dhawalhost/contactguard/internal/contact"
	"github.com/dhawalhost/contactguard/pkg/database"
	"github.com/dhawalhost/contactguard/pkg/logger"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	configFile := flag.String("config", os.Getenv("CONTACTGUARD_CONFIG"), "Optional config file")
	dir := flag.String("dir", "migrations", "Directory holding *.up.sql files")
	seed := flag.Bool("seed", false, "Insert the default contacts after migrating")
	fixtures := flag.String("fixtures", "", "JSON fixture file to seed instead of the defaults")
	flag.Parse()

	log, err := logger.New("info")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	v := config.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			log.Fatal("Failed to read config", zap.Error(err))
		}
	}
	cfg, err := config.Decode(v)
	if err != nil {
		log.Fatal("Failed to decode config", zap.Error(err))
	}
	pg := cfg.Store.Postgres

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	log.Info("Connecting to database", zap.String("host", pg.Host), zap.Int("port", pg.Port), zap.String("db", pg.DBName))
	db, err := database.NewConnection(ctx, pg)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := migrate(ctx, db, *dir, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	if *seed || *fixtures != "" {
		contacts := contact.DefaultContacts()
		if *fixtures != "" {
			if contacts, err = contact.LoadFixtures(*fixtures); err != nil {
				log.Fatal("Failed to load fixtures", zap.Error(err))
			}
		}
		n, err := contact.Seed(ctx, db, contacts)
		if err != nil {
			log.Fatal("Seeding failed", zap.Error(err))
		}
		log.Info("Seeded contacts", zap.Int64("inserted", n), zap.Int("candidates", len(contacts)))
	}

	log.Info("All migrations processed")
}

// migrate applies every *.up.sql file in dir that is not yet recorded in
// schema_migrations, in lexical order, each in its own transaction.
func migrate(ctx context.Context, db *sqlx.DB, dir string, log *zap.Logger) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, `SELECT filename FROM schema_migrations`); err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, f := range applied {
		done[f] = true
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var upMigrations []string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".up.sql") {
			upMigrations = append(upMigrations, f.Name())
		}
	}
	sort.Strings(upMigrations)

	for _, filename := range upMigrations {
		if done[filename] {
			log.Debug("Skipping applied migration", zap.String("file", filename))
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			return err
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Info("Applied migration", zap.String("file", filename))
	}
	return nil
}
