package app

import (
	"strings"

	"github.com/zeh237/taskly/internal/database"
)

// DatabaseSettings converts DatabaseConfig into the database package representation,
// picking the host block that matches the driver.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver:       driver,
		Path:         c.Path,
		DSN:          c.DSN,
		MaxOpenConns: c.MaxOpenConns,
		MaxIdleConns: c.MaxIdleConns,
	}

	var hosted DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		hosted = c.Postgres
	case "mysql":
		hosted = c.MySQL
	default:
		return cfg
	}

	cfg.Host = hosted.Host
	cfg.Port = hosted.Port
	cfg.Name = hosted.Database
	cfg.User = hosted.Username
	cfg.Password = hosted.Password
	return cfg
}
