package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Settlement SettlementConfig
	Auth       AuthConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type RedisConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers  []string
	Enabled  bool
	MockMode bool
	Topics   TopicConfig
}

type TopicConfig struct {
	BatchCreated      string
	TicketIssued      string
	TicketListed      string
	TicketTransferred string
	TicketRedeemed    string
}

// SettlementConfig carries the resale fee split in basis points. Defaults
// mirror the reference commission scheme: 5% to the original issuer, 2%
// platform fee.
type SettlementConfig struct {
	CommissionBps  int64
	PlatformFeeBps int64
}

type AuthConfig struct {
	OIDCIssuer     string
	JWTSecret      string
	QRSecret       string
	ReservationTTL time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "ledger_user"),
			Password:     getEnv("DB_PASSWORD", "ledger_pass"),
			Database:     getEnv("DB_NAME", "ticket_ledger"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Kafka: KafkaConfig{
			Brokers:  []string{getEnv("KAFKA_BROKERS", "localhost:9092")},
			Enabled:  getEnvBool("KAFKA_ENABLED", true),
			MockMode: getEnvBool("KAFKA_MOCK_MODE", false),
			Topics: TopicConfig{
				BatchCreated:      getEnv("KAFKA_TOPIC_BATCH_CREATED", "batch-created"),
				TicketIssued:      getEnv("KAFKA_TOPIC_TICKET_ISSUED", "ticket-issued"),
				TicketListed:      getEnv("KAFKA_TOPIC_TICKET_LISTED", "ticket-listed"),
				TicketTransferred: getEnv("KAFKA_TOPIC_TICKET_TRANSFERRED", "ticket-transferred"),
				TicketRedeemed:    getEnv("KAFKA_TOPIC_TICKET_REDEEMED", "ticket-redeemed"),
			},
		},
		Settlement: SettlementConfig{
			CommissionBps:  int64(getEnvInt("RESALE_COMMISSION_BPS", 500)),
			PlatformFeeBps: int64(getEnvInt("PLATFORM_FEE_BPS", 200)),
		},
		Auth: AuthConfig{
			OIDCIssuer:     getEnv("OIDC_ISSUER", ""),
			JWTSecret:      getEnv("JWT_SECRET", "dev-only-secret"),
			QRSecret:       getEnv("QR_SECRET_KEY", "dev-only-qr-secret"),
			ReservationTTL: time.Duration(getEnvInt("RESERVATION_TTL_MINUTES", 5)) * time.Minute,
		},
	}
}

// DSN builds a lib/pq connection string from the database section.
func (c DatabaseConfig) DSN() string {
	return "postgres://" + c.Username + ":" + c.Password + "@" + c.Host + ":" + c.Port +
		"/" + c.Database + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
