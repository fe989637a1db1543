package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Vendor    VendorConfig    `mapstructure:"vendor"`
	Filter    FilterConfig    `mapstructure:"filter"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Drive     DriveConfig     `mapstructure:"drive"`
	Sheets    SheetsConfig    `mapstructure:"sheets"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GmailConfig holds Gmail API configuration. When UseIMAP is set the inbox is
// read over IMAP instead of the Gmail API; sending notifications always goes
// through the Gmail API.
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
	UseIMAP      bool   `mapstructure:"use_imap"`
	IMAPHost     string `mapstructure:"imap_host"`
	IMAPPort     int    `mapstructure:"imap_port"`
	IMAPUser     string `mapstructure:"imap_user"`
	IMAPPassword string `mapstructure:"imap_password"`
}

// VendorConfig holds Mutual Ser API configuration
type VendorConfig struct {
	AuthBaseURL      string        `mapstructure:"auth_base_url"`
	APIBaseURL       string        `mapstructure:"api_base_url"`
	PortalURL        string        `mapstructure:"portal_url"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	NIT              string        `mapstructure:"nit"`
	UserID           string        `mapstructure:"user_id"`
	OrganizationName string        `mapstructure:"organization_name"`
	PollAttempts     int           `mapstructure:"poll_attempts"`
	PollDelay        time.Duration `mapstructure:"poll_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// FilterConfig defines which subjects belong to the pipeline. A message
// matches when the part of its subject before the second semicolon equals
// "<NIT>;<Company>".
type FilterConfig struct {
	NIT     string `mapstructure:"nit"`
	Company string `mapstructure:"company"`
}

// SubjectPrefix returns the exact prefix matched against inbox subjects.
func (f FilterConfig) SubjectPrefix() string {
	return f.NIT + ";" + f.Company
}

// BatchConfig holds orchestrator limits
type BatchConfig struct {
	Cap int `mapstructure:"cap"`
}

// DriveConfig holds the publish destination
type DriveConfig struct {
	FacturasPDFFolderID string `mapstructure:"facturas_pdf_folder_id"`
}

// SheetsConfig holds the report destination
type SheetsConfig struct {
	SpreadsheetID string `mapstructure:"spreadsheet_id"`
	Worksheet     string `mapstructure:"worksheet"`
}

// NotifyConfig holds error notification addresses
type NotifyConfig struct {
	AdminEmail string `mapstructure:"admin_email"`
	DevEmail   string `mapstructure:"dev_email"`
}

// StoreConfig holds the optional report archive database
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("gmail.use_imap", false)
	viper.SetDefault("gmail.imap_host", "imap.gmail.com")
	viper.SetDefault("gmail.imap_port", 993)

	viper.SetDefault("vendor.poll_attempts", 10)
	viper.SetDefault("vendor.poll_delay", "6s")
	viper.SetDefault("vendor.timeout", "60s")
	viper.SetDefault("vendor.organization_name", "LOGIFARMA S.A.S.")

	viper.SetDefault("filter.company", "LOGIFARMA SAS")

	viper.SetDefault("batch.cap", 200)

	viper.SetDefault("sheets.worksheet", "CONTROL")

	viper.SetDefault("store.enabled", false)

	viper.SetDefault("scheduler.interval_minutes", 60)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Gmail
	viper.BindEnv("gmail.client_id", "GOOGLE_CLIENT_ID")
	viper.BindEnv("gmail.client_secret", "GOOGLE_CLIENT_SECRET")
	viper.BindEnv("gmail.refresh_token", "GOOGLE_REFRESH_TOKEN")
	viper.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("gmail.use_imap", "GMAIL_USE_IMAP")
	viper.BindEnv("gmail.imap_host", "GMAIL_IMAP_HOST")
	viper.BindEnv("gmail.imap_port", "GMAIL_IMAP_PORT")
	viper.BindEnv("gmail.imap_user", "GMAIL_IMAP_USER")
	viper.BindEnv("gmail.imap_password", "GMAIL_IMAP_PASSWORD")

	// Vendor
	viper.BindEnv("vendor.auth_base_url", "MUTUALSER_AUTH_BASE_URL")
	viper.BindEnv("vendor.api_base_url", "MUTUALSER_API_BASE_URL")
	viper.BindEnv("vendor.portal_url", "MUTUALSER_PORTAL_URL")
	viper.BindEnv("vendor.username", "MUTUALSER_USERNAME")
	viper.BindEnv("vendor.password", "MUTUALSER_PASSWORD")
	viper.BindEnv("vendor.nit", "LOGI_NIT")
	viper.BindEnv("vendor.user_id", "MUTUALSER_USER_ID")
	viper.BindEnv("vendor.organization_name", "MUTUALSER_ORGANIZATION_NAME")

	// Filter
	viper.BindEnv("filter.nit", "LOGI_NIT")
	viper.BindEnv("filter.company", "FILTER_COMPANY")

	// Batch
	viper.BindEnv("batch.cap", "BATCH_CAP")

	// Drive / Sheets
	viper.BindEnv("drive.facturas_pdf_folder_id", "FACTURAS_PDF")
	viper.BindEnv("sheets.spreadsheet_id", "SPREADSHEET_ID")
	viper.BindEnv("sheets.worksheet", "SHEETS_WORKSHEET")

	// Notifications
	viper.BindEnv("notify.admin_email", "LOGIFARMA_ADMIN")
	viper.BindEnv("notify.dev_email", "LOGIFARMA_DEV")

	// Store
	viper.BindEnv("store.enabled", "STORE_ENABLED")
	viper.BindEnv("store.dsn", "STORE_DSN")

	// Scheduler
	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if !c.Gmail.UseIMAP {
		if c.Gmail.ClientID == "" || c.Gmail.ClientSecret == "" || c.Gmail.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	} else {
		if c.Gmail.IMAPUser == "" || c.Gmail.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	}

	if c.Vendor.Username == "" || c.Vendor.Password == "" {
		return fmt.Errorf("vendor username and password are required")
	}

	if c.Filter.NIT == "" {
		return fmt.Errorf("filter NIT is required")
	}

	if c.Batch.Cap <= 0 {
		return fmt.Errorf("batch cap must be greater than 0")
	}

	if c.Store.Enabled && c.Store.DSN == "" {
		return fmt.Errorf("store DSN is required when the store is enabled")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	return nil
}
