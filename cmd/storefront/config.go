package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rabby420bd/tj/database"
	awspkg "github.com/rabby420bd/tj/pkg/aws"
	"github.com/rabby420bd/tj/services"
)

const (
	DriverMemory   = "memory"
	DriverDynamoDB = "dynamodb"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        string
	Env         string
	StoreDriver string
	PriceSource services.PriceSource

	DDBTableProducts string
	DDBTableOrders   string
	DDBTableChats    string
	MongoURL         string
	MongoDB          string
	Postgres         database.PostgresConfig
	RedisURL         string

	JWTSecret         string
	TokenTTL          time.Duration
	AdminEmail        string
	AdminPasswordHash string

	AWS                awspkg.Options
	UseSecrets         bool
	SecretName         string
	OrderTopicARN      string
	S3Bucket           string
	S3PublicBaseURL    string
	CloudWatchEnabled  bool
	CloudWatchLogGroup string

	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
}

// LoadConfig reads .env (optional) and the environment. With
// AWS_USE_SECRETS=true, keys found in the Secrets Manager secret override
// their environment values.
func LoadConfig(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "12h"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_TTL: %w", err)
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("APP_ENV", "development"),
		StoreDriver:      strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DDBTableProducts: getEnv("DDB_TABLE_PRODUCTS", "Products"),
		DDBTableOrders:   getEnv("DDB_TABLE_ORDERS", "Orders"),
		DDBTableChats:    getEnv("DDB_TABLE_CHATS", "ChatMessages"),
		MongoURL:         getEnv("MONGO_DB_URL", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDB:          getEnv("MONGO_DB_NAME", "trendy_jamakapor"),
		Postgres: database.PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DBName:   os.Getenv("POSTGRES_DB"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Dhaka"),
		},
		RedisURL:          os.Getenv("REDIS_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		TokenTTL:          ttl,
		AdminEmail:        os.Getenv("ADMIN_EMAIL"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AWS: awspkg.Options{
			Region:          getEnv("AWS_REGION", "ap-south-1"),
			Endpoint:        os.Getenv("AWS_ENDPOINT"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		},
		UseSecrets:         os.Getenv("AWS_USE_SECRETS") == "true",
		SecretName:         getEnv("AWS_SECRET_NAME", "storefront/config"),
		OrderTopicARN:      os.Getenv("ORDER_SNS_TOPIC_ARN"),
		S3Bucket:           os.Getenv("S3_IMAGE_BUCKET"),
		S3PublicBaseURL:    os.Getenv("S3_PUBLIC_BASE_URL"),
		CloudWatchEnabled:  os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup: getEnv("CLOUDWATCH_LOG_GROUP", "/trendy-jamakapor/storefront"),
		AllowedOrigins:     splitList(os.Getenv("ALLOWED_ORIGINS")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 30),
	}

	if cfg.PriceSource, err = services.ParsePriceSource(os.Getenv("PRICE_SOURCE")); err != nil {
		return nil, err
	}

	if cfg.UseSecrets {
		awsCfg, err := awspkg.LoadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		secrets, err := awspkg.NewSecretsClient(awsCfg).GetSecretMap(ctx, cfg.SecretName)
		if err != nil {
			return nil, fmt.Errorf("failed to load secret %s: %w", cfg.SecretName, err)
		}
		cfg.applySecrets(secrets)
	}

	return cfg, nil
}

func (c *Config) applySecrets(m map[string]string) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(m[key]); v != "" {
			*dst = v
		}
	}
	override(&c.JWTSecret, "JWT_SECRET")
	override(&c.AdminPasswordHash, "ADMIN_PASSWORD_HASH")
	override(&c.MongoURL, "MONGO_DB_URL")
	override(&c.RedisURL, "REDIS_URL")
	override(&c.Postgres.User, "POSTGRES_USER")
	override(&c.Postgres.Password, "POSTGRES_PASSWORD")
	override(&c.Postgres.DBName, "POSTGRES_DB")
	override(&c.Postgres.Host, "POSTGRES_HOST")
	override(&c.Postgres.Port, "POSTGRES_PORT")
}

// Validate checks what serve needs before any connection is opened.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverDynamoDB, DriverMongo, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AdminEmail == "" || c.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD_HASH are required")
	}
	return nil
}

// needsAWS reports whether any configured component talks to AWS.
func (c *Config) needsAWS() bool {
	return c.StoreDriver == DriverDynamoDB || c.OrderTopicARN != "" || c.S3Bucket != "" || c.CloudWatchEnabled
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
