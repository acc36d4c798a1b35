package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mail      MailConfig      `mapstructure:"mail"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Nudge     NudgeConfig     `mapstructure:"nudge"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailConfig holds the assistant's identity and email provider credentials.
// SenderAddress is the assistant's own address; replies are routed back via
// plus-addressed variants of it.
type MailConfig struct {
	SenderAddress string `mapstructure:"sender_address"`
	SenderName    string `mapstructure:"sender_name"`
	ClientID      string `mapstructure:"client_id"`
	ClientSecret  string `mapstructure:"client_secret"`
	RefreshToken  string `mapstructure:"refresh_token"`
	UseIMAP       bool   `mapstructure:"use_imap"`
	IMAPHost      string `mapstructure:"imap_host"`
	IMAPPort      int    `mapstructure:"imap_port"`
	IMAPUser      string `mapstructure:"imap_user"`
	IMAPPassword  string `mapstructure:"imap_password"`
}

// EngineConfig holds decision engine (LLM) configuration
type EngineConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NudgeConfig holds the reminder/escalation thresholds. A participant whose
// last outbound request is older than FirstReminder gets nudged, older than
// SecondReminder gets a second nudge, older than Escalation is handed to the
// organizer.
type NudgeConfig struct {
	FirstReminder  time.Duration `mapstructure:"first_reminder"`
	SecondReminder time.Duration `mapstructure:"second_reminder"`
	Escalation     time.Duration `mapstructure:"escalation"`
}

// SchedulerConfig holds periodic sweep configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// EventsConfig holds the optional AMQP processing-event sink configuration
type EventsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AMQPURL  string `mapstructure:"amqp_url"`
	Exchange string `mapstructure:"exchange"`
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
	viper.SetDefault("server.write_timeout", "60s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("mail.use_imap", false)
	viper.SetDefault("mail.imap_host", "imap.gmail.com")
	viper.SetDefault("mail.imap_port", 993)

	viper.SetDefault("engine.model", "gpt-4o")
	viper.SetDefault("engine.timeout", "45s")

	viper.SetDefault("nudge.first_reminder", "24h")
	viper.SetDefault("nudge.second_reminder", "48h")
	viper.SetDefault("nudge.escalation", "72h")

	viper.SetDefault("scheduler.interval_minutes", 30)

	viper.SetDefault("events.enabled", false)
	viper.SetDefault("events.exchange", "scheduler.events")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Mail
	viper.BindEnv("mail.sender_address", "MAIL_SENDER_ADDRESS")
	viper.BindEnv("mail.sender_name", "MAIL_SENDER_NAME")
	viper.BindEnv("mail.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("mail.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("mail.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mail.use_imap", "MAIL_USE_IMAP")
	viper.BindEnv("mail.imap_host", "MAIL_IMAP_HOST")
	viper.BindEnv("mail.imap_port", "MAIL_IMAP_PORT")
	viper.BindEnv("mail.imap_user", "MAIL_IMAP_USER")
	viper.BindEnv("mail.imap_password", "MAIL_IMAP_PASSWORD")

	// Engine
	viper.BindEnv("engine.api_key", "OPENAI_API_KEY")
	viper.BindEnv("engine.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("engine.model", "ENGINE_MODEL")
	viper.BindEnv("engine.timeout", "ENGINE_TIMEOUT")

	// Nudge
	viper.BindEnv("nudge.first_reminder", "NUDGE_FIRST_REMINDER")
	viper.BindEnv("nudge.second_reminder", "NUDGE_SECOND_REMINDER")
	viper.BindEnv("nudge.escalation", "NUDGE_ESCALATION")

	// Scheduler
	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")

	// Events
	viper.BindEnv("events.enabled", "EVENTS_ENABLED")
	viper.BindEnv("events.amqp_url", "EVENTS_AMQP_URL")
	viper.BindEnv("events.exchange", "EVENTS_EXCHANGE")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Mail.SenderAddress == "" || !strings.Contains(c.Mail.SenderAddress, "@") {
		return fmt.Errorf("a valid mail sender address is required")
	}

	if c.Mail.ClientID == "" || c.Mail.ClientSecret == "" || c.Mail.RefreshToken == "" {
		return fmt.Errorf("Gmail OAuth2 credentials are required")
	}

	if c.Mail.UseIMAP && (c.Mail.IMAPUser == "" || c.Mail.IMAPPassword == "") {
		return fmt.Errorf("IMAP credentials are required when IMAP polling is enabled")
	}

	if c.Engine.APIKey == "" {
		return fmt.Errorf("decision engine API key is required")
	}

	if c.Nudge.FirstReminder <= 0 || c.Nudge.SecondReminder <= c.Nudge.FirstReminder ||
		c.Nudge.Escalation <= c.Nudge.SecondReminder {
		return fmt.Errorf("nudge thresholds must be positive and strictly increasing")
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}

	if c.Events.Enabled && c.Events.AMQPURL == "" {
		return fmt.Errorf("events amqp_url is required when the event sink is enabled")
	}

	return nil
}
