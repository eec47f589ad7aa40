package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinepi/cdipipe/internal/bulkcopy"
	"github.com/clinepi/cdipipe/internal/config"
	"github.com/clinepi/cdipipe/internal/db"
	"github.com/clinepi/cdipipe/internal/domain"
	"github.com/clinepi/cdipipe/internal/mapper"
	"github.com/clinepi/cdipipe/internal/pipeline"
	"github.com/clinepi/cdipipe/internal/repository"
	"github.com/clinepi/cdipipe/internal/sftp"
	"github.com/clinepi/cdipipe/internal/sourceconv"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	var configPath string
	var cfg config.Config

	root := &cobra.Command{
		Use:           "cdipipe",
		Short:         "Clinical data integration pipeline for an i2b2-style warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		migrateCmd(&cfg, log),
		loadCmd(&cfg, log),
		mapPatientsCmd(&cfg, log),
		deleteCmd(&cfg, log),
		convertCmd(log),
		fetchConceptsCmd(&cfg, log),
		runsCmd(&cfg),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func migrateCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var migrationsPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply warehouse schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := db.RunMigrations(cfg.Database, migrationsPath); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&migrationsPath, "migrations", "migrations", "path to migration files")
	return cmd
}

func loadCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var entityName, file, dir string
	var reload bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load entity files into the warehouse",
		Long: "Load a single entity file (--entity with --file), or a whole export\n" +
			"directory (--dir) in dependency order: patients, encounters, facts,\n" +
			"concepts. In directory mode an mrn.csv is mapped before any entity loads.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (dir == "") == (file == "") {
				return fmt.Errorf("exactly one of --file or --dir is required")
			}

			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			orc := newOrchestrator(*cfg, conn, log)
			opts := pipeline.Options{Reload: reload}

			if dir != "" {
				summaries, err := orc.LoadDirectory(cmd.Context(), dir, opts)
				for _, summary := range summaries {
					printSummary(summary)
				}
				return err
			}

			entity, err := domain.ParseEntityType(entityName)
			if err != nil {
				return err
			}
			summary, err := orc.LoadFile(cmd.Context(), entity, file, opts)
			if err != nil {
				return err
			}
			printSummary(summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&entityName, "entity", "", "entity type: patient, encounter, fact or concept")
	cmd.Flags().StringVar(&file, "file", "", "input file (.csv or .xlsx)")
	cmd.Flags().StringVar(&dir, "dir", "", "directory of entity files to load in dependency order")
	cmd.Flags().BoolVar(&reload, "reload", false, "delete the cohort's rows from the target table before loading")
	return cmd
}

func printSummary(s *domain.RunSummary) {
	fmt.Printf("run %s (%s): read %d, loaded %d, rejected %d\n",
		s.ID, s.Entity, s.Read, s.Loaded, s.Rejected)
}

func mapPatientsCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "map-patients",
		Short: "Map patient identifiers from a multi-source mrn file",
		Long: "Reads an mrn file whose header names the source systems and mints one\n" +
			"patient surrogate per row, shared by every identifier on the row.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			mappings := repository.NewMappingRepository(conn.Pool, cfg.Pipeline.ProjectID)
			m := mapper.New(mappings, cfg.Pipeline.SourceSystem)
			rows, err := m.LoadMRNs(cmd.Context(), file, rune(cfg.Pipeline.Delimiter[0]))
			if err != nil {
				return err
			}
			log.Info().Str("file", file).Int("rows", rows).Msg("patient identifiers mapped")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "mrn file (.csv)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func deleteCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove every row the configured source system loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			deleter := pipeline.NewDeleter(
				repository.NewMappingRepository(conn.Pool, cfg.Pipeline.ProjectID),
				repository.NewWarehouseRepository(conn.Pool),
				log)
			counts, err := deleter.DeleteCohort(cmd.Context(), cfg.Pipeline.SourceSystem)
			if err != nil {
				return err
			}
			for table, n := range counts {
				fmt.Printf("%s: %d rows\n", table, n)
			}
			return nil
		},
	}
	return cmd
}

func convertCmd(log zerolog.Logger) *cobra.Command {
	var dir string
	var delimiter string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Rewrite a Synthea export directory into pipeline input files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(delimiter) != 1 {
				return fmt.Errorf("delimiter must be a single character")
			}
			sep := rune(delimiter[0])

			steps := []struct {
				name string
				fn   func(string, rune) (string, error)
			}{
				{"patients.csv", sourceconv.ConvertPatients},
				{"patients.csv", sourceconv.ConvertMRNs},
				{"encounters.csv", sourceconv.ConvertEncounters},
				{"observations.csv", sourceconv.ConvertObservations},
			}
			for _, step := range steps {
				out, err := step.fn(filepath.Join(dir, step.name), sep)
				if err != nil {
					return err
				}
				log.Info().Str("input", step.name).Str("output", out).Msg("converted")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Synthea export directory")
	cmd.Flags().StringVar(&delimiter, "delimiter", ",", "field delimiter")
	cmd.MarkFlagRequired("dir")
	return cmd
}

func fetchConceptsCmd(cfg *config.Config, log zerolog.Logger) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "fetch-concepts",
		Short: "Download concept definition files from the configured SFTP drop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.SFTP.Host == "" {
				return fmt.Errorf("sftp.host is not configured")
			}
			fetched, err := sftp.NewRemoteFetcher(cfg.SFTP).Fetch(dir)
			if err != nil {
				return err
			}
			for _, path := range fetched {
				log.Info().Str("file", path).Msg("fetched concept file")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "concepts", "local directory for fetched files")
	return cmd
}

func runsCmd(cfg *config.Config) *cobra.Command {
	var entityName string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent load runs for an entity type",
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := domain.ParseEntityType(entityName)
			if err != nil {
				return err
			}

			conn, err := db.NewConnection(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			runs, err := repository.NewLoadRunRepository(conn.Pool).List(cmd.Context(), entity, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s  %-9s  read=%-6d loaded=%-6d rejected=%-6d %s  %s\n",
					r.StartedAt.Format(time.RFC3339), r.Status,
					r.Read, r.Loaded, r.Rejected, r.SourceFile, r.FatalError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entityName, "entity", "", "entity type: patient, encounter, fact or concept")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	cmd.MarkFlagRequired("entity")
	return cmd
}

func newOrchestrator(cfg config.Config, conn *db.Connection, log zerolog.Logger) *pipeline.Orchestrator {
	mappings := repository.NewMappingRepository(conn.Pool, cfg.Pipeline.ProjectID)
	return pipeline.NewOrchestrator(
		cfg,
		mapper.New(mappings, cfg.Pipeline.SourceSystem),
		mappings,
		repository.NewWarehouseRepository(conn.Pool),
		repository.NewLoadRunRepository(conn.Pool),
		bulkcopy.NewCopyUploader(conn.Pool),
		log)
}
