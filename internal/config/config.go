package config

import (
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment knob the server reads at boot.
type Config struct {
	// Server configuration
	ServerPort  string
	Environment string
	WSPath      string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT configuration
	JWTSecret string

	// internal secret used for the snapshot/compaction-only routes
	InternalSecret string

	FrontendAddress string

	// SnapshotThreshold is the number of events since the last snapshot
	// that triggers a new one (§4.D shouldSnapshot heuristic)
	SnapshotThreshold uint64
}

// AppConfig is the process-wide configuration, populated once by LoadConfig.
var AppConfig Config

// LoadConfig loads configuration from environment variables, optionally
// seeded by a .env file found in the working directory or a parent of it.
func LoadConfig() {
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

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
		ServerPort:        getEnv("PORT", "8080"),
		Environment:       getEnv("ENV", "development"),
		WSPath:            getEnv("WS_PATH", "/ws"),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "postgres"),
		DBPassword:        getEnv("DB_PASSWORD", "postgres"),
		DBName:            getEnv("DB_NAME", "canvascollab"),
		RedisAddress:      getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:         jwtSecret,
		InternalSecret:    getEnv("INTERNAL_SECRET", "canvascollab-internal-secret"),
		FrontendAddress:   getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),
		SnapshotThreshold: getEnvUint("SNAPSHOT_THRESHOLD", 200),
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

func getEnvUint(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	secret := make([]byte, length)
	for i := range secret {
		secret[i] = charset[rng.Intn(len(charset))]
	}
	return string(secret)
}
