package config

import (
	"crypto/rand"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string
	LogLevel    string

	// Database configuration
	DBDriver   string // postgres or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// Upload storage
	BlobDriver  string // fs or s3
	BlobRoot    string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3AccessKey string
	S3SecretKey string

	// Notification service
	NotifyAddress string
	NotifySecret  string

	// Background jobs
	WorkerCount int
	TaskTimeout time.Duration

	FrontendAddress string
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateRandomSecret(32)
		log.Println("Generated random JWT secret")
	}

	AppConfig = Config{
		ServerPort:      getEnv("PORT", "8080"),
		Environment:     getEnv("ENV", "development"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DBDriver:        getEnv("DB_DRIVER", "postgres"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "mavedb"),
		SQLitePath:      getEnv("SQLITE_PATH", "mavedb.sqlite"),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:       jwtSecret,
		BlobDriver:      getEnv("BLOB_DRIVER", "fs"),
		BlobRoot:        getEnv("BLOB_ROOT", "./uploads"),
		S3Bucket:        getEnv("BLOB_S3_BUCKET", ""),
		S3Region:        getEnv("BLOB_S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("BLOB_S3_ENDPOINT", ""),
		S3PathStyle:     strings.EqualFold(getEnv("BLOB_S3_PATH_STYLE", "false"), "true"),
		S3AccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		NotifyAddress:   getEnv("NOTIFY_ADDRESS", ""),
		NotifySecret:    getEnv("NOTIFY_SECRET", "mavedb-notify-secret"),
		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		TaskTimeout:     getEnvDuration("TASK_TIMEOUT", 10*time.Minute),
		FrontendAddress: getEnv("FRONTEND_ADDRESS", "https://www.mavedb.org"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("failed to generate secret: %v", err)
	}
	secret := make([]byte, length)
	for i, b := range buf {
		secret[i] = charset[int(b)%len(charset)]
	}
	return string(secret)
}
