package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// API
	APIPort int

	// Backup execution
	MaxConcurrency     int // hard ceiling for per-job concurrency
	DefaultConcurrency int // used when a job has no concurrency set
}

func Load() *Config {
	// Database password - warn if using default
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	// Redis password - warn if using default
	redisPassword := getEnv("REDIS_PASSWORD", "")
	if redisPassword == "" {
		log.Println("WARNING: REDIS_PASSWORD not set - Redis is not secured!")
	}

	maxConcurrency := getEnvInt("BACKUP_MAX_CONCURRENCY", 20)
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "netvault"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "netvault"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: redisPassword,

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// Backup execution
		MaxConcurrency:     maxConcurrency,
		DefaultConcurrency: getEnvInt("BACKUP_DEFAULT_CONCURRENCY", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
