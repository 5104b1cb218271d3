package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RabbitMQ    RabbitMQConfig    `mapstructure:"rabbitmq"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Phone       PhoneConfig       `mapstructure:"phone"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Wedding     WeddingConfig     `mapstructure:"wedding"`
	Twilio      TwilioConfig      `mapstructure:"twilio"`
	MessageBird MessageBirdConfig `mapstructure:"messagebird"`
	Zoko        ZokoConfig        `mapstructure:"zoko"`
	WhatsApp    WhatsAppConfig    `mapstructure:"whatsapp"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	WebPush     WebPushConfig     `mapstructure:"webpush"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PublicURL is where webhooks and invitation links point back to.
	PublicURL string `mapstructure:"public_url"`
	// WebhookSecret must be sent by the MessageBird and Zoko webhooks as the
	// token query parameter or the X-Webhook-Token header.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RabbitMQConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type PhoneConfig struct {
	// DefaultRegion is the ISO region whose calling code is prepended to local numbers.
	DefaultRegion string   `mapstructure:"default_region"`
	KnownRegions  []string `mapstructure:"known_regions"`
}

type DispatchConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	Burst          int           `mapstructure:"burst"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	InvitationLink string        `mapstructure:"invitation_link"`
}

// WeddingConfig holds the event details used in auto-responses
type WeddingConfig struct {
	Date      string `mapstructure:"date"`
	Location  string `mapstructure:"location"`
	BrideName string `mapstructure:"bride_name"`
	GroomName string `mapstructure:"groom_name"`
}

type TwilioConfig struct {
	AccountSID   string `mapstructure:"account_sid"`
	AuthToken    string `mapstructure:"auth_token"`
	FromNumber   string `mapstructure:"from_number"`
	WhatsAppFrom string `mapstructure:"whatsapp_from"`
}

func (c TwilioConfig) Enabled() bool { return c.AccountSID != "" || c.AuthToken != "" }

func (c TwilioConfig) Validate() error {
	if c.AccountSID == "" || c.AuthToken == "" {
		return errors.New("twilio: account_sid and auth_token are required")
	}
	if c.FromNumber == "" && c.WhatsAppFrom == "" {
		return errors.New("twilio: from_number or whatsapp_from is required")
	}
	return nil
}

type MessageBirdConfig struct {
	AccessKey  string `mapstructure:"access_key"`
	Originator string `mapstructure:"originator"`
	BaseURL    string `mapstructure:"base_url"`
}

func (c MessageBirdConfig) Enabled() bool { return c.AccessKey != "" }

func (c MessageBirdConfig) Validate() error {
	if c.AccessKey == "" || c.Originator == "" {
		return errors.New("messagebird: access_key and originator are required")
	}
	return nil
}

type ZokoConfig struct {
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Language string `mapstructure:"language"`
}

func (c ZokoConfig) Enabled() bool { return c.APIKey != "" }

func (c ZokoConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("zoko: api_key is required")
	}
	return nil
}

// WhatsAppConfig configures the linked-device WhatsApp client
type WhatsAppConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DataDir string `mapstructure:"data_dir"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

func (c SMTPConfig) Enabled() bool { return c.Host != "" }

func (c SMTPConfig) Validate() error {
	if c.Host == "" || c.Port == 0 || c.From == "" {
		return errors.New("smtp: host, port and from are required")
	}
	return nil
}

type WebPushConfig struct {
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subscriber      string `mapstructure:"subscriber"`
}

func (c WebPushConfig) Enabled() bool { return c.VAPIDPrivateKey != "" }

func (c WebPushConfig) Validate() error {
	if c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "" || c.Subscriber == "" {
		return errors.New("webpush: vapid keys and subscriber are required")
	}
	return nil
}

// LoadConfig loads configuration from an optional YAML file, a .env file and
// environment variables, in increasing order of precedence
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
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

// Validate checks settings that make the service unusable when wrong.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Phone.DefaultRegion == "" {
		return errors.New("phone.default_region is required")
	}
	if c.Dispatch.MaxAttempts < 1 {
		return errors.New("dispatch.max_attempts must be at least 1")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.public_url", "http://localhost:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:data/invitations.db?_foreign_keys=on")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.queue", "dispatch.jobs")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("phone.default_region", "AE")
	v.SetDefault("phone.known_regions", []string{"AE", "SA"})

	v.SetDefault("dispatch.interval", "750ms")
	v.SetDefault("dispatch.burst", 1)
	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff", "1s")
	v.SetDefault("dispatch.max_backoff", "30s")
	v.SetDefault("dispatch.invitation_link", "http://localhost:8080/invitation/{id}")

	v.SetDefault("wedding.date", "Saturday, January 1, 2025")
	v.SetDefault("wedding.location", "Venue TBD")
	v.SetDefault("wedding.bride_name", "Bride")
	v.SetDefault("wedding.groom_name", "Groom")

	// Bind every credential so AutomaticEnv can see keys absent from the file.
	for _, key := range []string{
		"server.webhook_secret",
		"twilio.account_sid", "twilio.auth_token", "twilio.from_number", "twilio.whatsapp_from",
		"messagebird.access_key", "messagebird.originator",
		"zoko.api_key",
		"smtp.host", "smtp.username", "smtp.password", "smtp.from",
		"webpush.vapid_public_key", "webpush.vapid_private_key", "webpush.subscriber",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("smtp.port", 587)
	v.SetDefault("messagebird.base_url", "https://rest.messagebird.com")
	v.SetDefault("zoko.base_url", "https://chat.zoko.io")
	v.SetDefault("zoko.language", "en")
	v.SetDefault("whatsapp.enabled", false)
	v.SetDefault("whatsapp.data_dir", "data")
}
