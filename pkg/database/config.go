package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Driver names a supported database engine.
type Driver string

const (
	// DriverMySQL connects through go-sql-driver/mysql
	DriverMySQL Driver = "mysql"
	// DriverPostgres connects through pgx
	DriverPostgres Driver = "postgres"
)

// IsValid checks if the driver is supported
func (d Driver) IsValid() bool {
	return d == DriverMySQL || d == DriverPostgres
}

// DefaultPort returns the engine's standard port.
func (d Driver) DefaultPort() int {
	if d == DriverMySQL {
		return 3306
	}
	return 5432
}

// LoadConfigFromEnv loads database configuration from environment variables
// named prefix+"HOST", prefix+"PORT" and so on. The source connector reads
// "DB_"; the run ledger reads "LEDGER_DB_".
func LoadConfigFromEnv(prefix string, defaultDriver Driver) (Config, error) {
	driver := Driver(getEnvOrDefault(prefix+"DRIVER", string(defaultDriver)))
	if !driver.IsValid() {
		return Config{}, fmt.Errorf("invalid %sDRIVER %q (want mysql or postgres)", prefix, driver)
	}

	port, err := strconv.Atoi(getEnvOrDefault(prefix+"PORT", strconv.Itoa(driver.DefaultPort())))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %sPORT: %w", prefix, err)
	}

	maxOpen, _ := strconv.Atoi(getEnvOrDefault(prefix+"MAX_OPEN_CONNS", "10"))
	maxIdle, _ := strconv.Atoi(getEnvOrDefault(prefix+"MAX_IDLE_CONNS", "5"))

	return Config{
		Driver:          driver,
		Host:            getEnvOrDefault(prefix+"HOST", "localhost"),
		Port:            port,
		User:            os.Getenv(prefix + "USER"),
		Password:        os.Getenv(prefix + "PASSWORD"),
		Database:        os.Getenv(prefix + "NAME"),
		SSLMode:         getEnvOrDefault(prefix+"SSLMODE", "disable"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
