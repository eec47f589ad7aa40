package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/clinepi/cdipipe/internal/db"
)

// Pipeline holds the knobs of one load run.
type Pipeline struct {
	Delimiter     string
	MaxErrorCount int
	BatchSize     int
	SourceSystem  string
	ProjectID     string
	UploadID      int
	// FloatPrecision is the significant-digit count for numeric fact values
	// in the bulk file.
	FloatPrecision int
}

// Deid holds the de-identification policy settings.
type Deid struct {
	MaxShiftDays int
	DateLayout   string
	Salt         string
}

// SFTP holds the concept-file fetch collaborator settings.
type SFTP struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string
}

// Config is the full runtime configuration.
type Config struct {
	Database  db.Config
	Pipeline  Pipeline
	Deid      Deid
	SFTP      SFTP
	OutputDir string
}

// Default returns the configuration used when no file or env override is set.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Pipeline: Pipeline{
			Delimiter:      ",",
			MaxErrorCount:  100,
			BatchSize:      100,
			SourceSystem:   "DEMO",
			ProjectID:      "DEMO",
			UploadID:       1,
			FloatPrecision: 10,
		},
		Deid: Deid{
			MaxShiftDays: 365,
			DateLayout:   "2006-01-02 15:04:05",
			Salt:         "cdipipe",
		},
		SFTP: SFTP{
			Port:      22,
			RemoteDir: "/concept",
		},
		OutputDir: "out",
	}
}

// Load reads config.yaml from configPath (optional) and applies CDI_*
// environment overrides on top of the defaults.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("CDI")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("pipeline.delimiter")
	v.BindEnv("pipeline.max_error_count")
	v.BindEnv("pipeline.batch_size")
	v.BindEnv("pipeline.source_system")
	v.BindEnv("pipeline.project_id")
	v.BindEnv("pipeline.upload_id")
	v.BindEnv("pipeline.float_precision")
	v.BindEnv("deid.max_shift_days")
	v.BindEnv("deid.date_layout")
	v.BindEnv("deid.salt")
	v.BindEnv("sftp.host")
	v.BindEnv("sftp.port")
	v.BindEnv("sftp.user")
	v.BindEnv("sftp.password")
	v.BindEnv("sftp.remote_dir")
	v.BindEnv("output_dir")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// No config.yaml: defaults plus env are enough.
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("pipeline.delimiter") {
		cfg.Pipeline.Delimiter = v.GetString("pipeline.delimiter")
	}
	if v.IsSet("pipeline.max_error_count") {
		cfg.Pipeline.MaxErrorCount = v.GetInt("pipeline.max_error_count")
	}
	if v.IsSet("pipeline.batch_size") {
		cfg.Pipeline.BatchSize = v.GetInt("pipeline.batch_size")
	}
	if v.IsSet("pipeline.source_system") {
		cfg.Pipeline.SourceSystem = v.GetString("pipeline.source_system")
	}
	if v.IsSet("pipeline.project_id") {
		cfg.Pipeline.ProjectID = v.GetString("pipeline.project_id")
	}
	if v.IsSet("pipeline.upload_id") {
		cfg.Pipeline.UploadID = v.GetInt("pipeline.upload_id")
	}
	if v.IsSet("pipeline.float_precision") {
		cfg.Pipeline.FloatPrecision = v.GetInt("pipeline.float_precision")
	}
	if v.IsSet("deid.max_shift_days") {
		cfg.Deid.MaxShiftDays = v.GetInt("deid.max_shift_days")
	}
	if v.IsSet("deid.date_layout") {
		cfg.Deid.DateLayout = v.GetString("deid.date_layout")
	}
	if v.IsSet("deid.salt") {
		cfg.Deid.Salt = v.GetString("deid.salt")
	}
	if v.IsSet("sftp.host") {
		cfg.SFTP.Host = v.GetString("sftp.host")
	}
	if v.IsSet("sftp.port") {
		cfg.SFTP.Port = v.GetInt("sftp.port")
	}
	if v.IsSet("sftp.user") {
		cfg.SFTP.User = v.GetString("sftp.user")
	}
	if v.IsSet("sftp.password") {
		cfg.SFTP.Password = v.GetString("sftp.password")
	}
	if v.IsSet("sftp.remote_dir") {
		cfg.SFTP.RemoteDir = v.GetString("sftp.remote_dir")
	}
	if v.IsSet("output_dir") {
		cfg.OutputDir = v.GetString("output_dir")
	}

	if cfg.Pipeline.MaxErrorCount < 0 {
		return cfg, fmt.Errorf("pipeline.max_error_count must be >= 0")
	}
	if cfg.Deid.MaxShiftDays <= 0 {
		return cfg, fmt.Errorf("deid.max_shift_days must be > 0")
	}
	if len(cfg.Pipeline.Delimiter) != 1 {
		return cfg, fmt.Errorf("pipeline.delimiter must be a single character")
	}
	if cfg.Pipeline.FloatPrecision < 1 || cfg.Pipeline.FloatPrecision > 17 {
		return cfg, fmt.Errorf("pipeline.float_precision must be between 1 and 17")
	}

	return cfg, nil
}
