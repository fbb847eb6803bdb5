package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	MetadataPostgres = "postgres"
	MetadataMemory   = "memory"

	StorageFilesystem = "filesystem"
	StorageDatabase   = "database"
	StorageS3         = "s3"
	StorageMemory     = "memory"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Metadata MetadataConfig `mapstructure:"Metadata"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Cleanup  CleanupConfig  `mapstructure:"Cleanup"`
	Logging  LoggingConfig  `mapstructure:"Logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout" validate:"gt=0"`
	MaxBodyBytes    int64         `mapstructure:"MaxBodyBytes" validate:"gt=0"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"Host"`
	Port            string        `mapstructure:"Port"`
	User            string        `mapstructure:"User"`
	Password        string        `mapstructure:"Password"`
	Name            string        `mapstructure:"Name"`
	SSLMode         string        `mapstructure:"SSLMode"`
	MaxOpenConns    int           `mapstructure:"MaxOpenConns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"MaxIdleConns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"ConnMaxLifetime" validate:"gte=0"`
}

type MetadataConfig struct {
	Type string `mapstructure:"Type" validate:"oneof=postgres memory"`
}

// StorageConfig selects the payload backend. Backend specific options stay
// untyped here and are decoded by the backend factory.
type StorageConfig struct {
	Type       string         `mapstructure:"Type" validate:"oneof=filesystem database s3 memory"`
	ChunkSize  int            `mapstructure:"ChunkSize" validate:"gt=0"`
	Filesystem map[string]any `mapstructure:"Filesystem"`
	S3         map[string]any `mapstructure:"S3"`
}

type CleanupConfig struct {
	Enabled     bool          `mapstructure:"Enabled"`
	Interval    time.Duration `mapstructure:"Interval" validate:"gt=0"`
	CycleLength int           `mapstructure:"CycleLength" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"Level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"Format" validate:"oneof=text json"`
}

var validate = validator.New()

func NewConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.BindEnv("Database.Host", "DATABASE_HOST")
	v.BindEnv("Database.Port", "DATABASE_PORT")
	v.BindEnv("Database.User", "DATABASE_USER")
	v.BindEnv("Database.Password", "DATABASE_PASSWORD")
	v.BindEnv("Database.Name", "DATABASE_NAME")
	v.BindEnv("Database.SSLMode", "DATABASE_SSLMODE")
	v.BindEnv("Server.Port", "HTTP_PORT")
	v.BindEnv("Server.MaxBodyBytes", "HTTP_MAX_BODY_BYTES")
	v.BindEnv("Metadata.Type", "METADATA_TYPE")
	v.BindEnv("Storage.Type", "STORAGE_TYPE")
	v.BindEnv("Storage.Filesystem.root", "STORAGE_FS_ROOT")
	v.BindEnv("Storage.S3.bucket", "S3_BUCKET")
	v.BindEnv("Storage.S3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("Storage.S3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("Storage.S3.endpoint", "S3_ENDPOINT")
	v.BindEnv("Storage.S3.region", "S3_REGION")
	v.BindEnv("Logging.Level", "LOG_LEVEL")
	v.BindEnv("Logging.Format", "LOG_FORMAT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Printf("Warning: using only environment variables: %v\n", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.ShutdownTimeout", 15*time.Second)
	v.SetDefault("Server.MaxBodyBytes", int64(512<<20))
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MaxOpenConns", 25)
	v.SetDefault("Database.MaxIdleConns", 5)
	v.SetDefault("Database.ConnMaxLifetime", 5*time.Minute)
	v.SetDefault("Metadata.Type", MetadataPostgres)
	v.SetDefault("Storage.Type", StorageFilesystem)
	v.SetDefault("Storage.ChunkSize", 4<<20)
	v.SetDefault("Storage.Filesystem.root", "./data/versions")
	v.SetDefault("Cleanup.Enabled", true)
	v.SetDefault("Cleanup.Interval", time.Hour)
	v.SetDefault("Cleanup.CycleLength", 100)
	v.SetDefault("Logging.Level", "info")
	v.SetDefault("Logging.Format", "text")
}

// NeedsDatabase reports whether any configured backend talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.Metadata.Type == MetadataPostgres || c.Storage.Type == StorageDatabase
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.NeedsDatabase() {
		d := c.Database
		if d.Host == "" || d.Port == "" || d.User == "" || d.Password == "" || d.Name == "" {
			return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
				d.Host, d.Port, d.User, d.Name)
		}
	}
	return nil
}

func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// URL is the postgres:// form expected by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
