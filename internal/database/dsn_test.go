package database

import (
	"net/url"
	"testing"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "taskly", Name: "taskly"})
	require.NoError(t, err)
	require.Equal(t, "postgres://taskly@localhost:5432/taskly?sslmode=disable", dsn)
}

func TestBuildPostgresDSNEscapesCredentialsAndMergesOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "ops",
		Password: "p@ss:w/rd",
		Name:     "projects",
		Host:     "db.example.com",
		Port:     6543,
		Options:  map[string]string{"sslmode": "require", "search_path": "public"},
	})
	require.NoError(t, err)

	parsed, err := url.Parse(dsn)
	require.NoError(t, err)
	require.Equal(t, "db.example.com:6543", parsed.Host)
	require.Equal(t, "/projects", parsed.Path)
	password, ok := parsed.User.Password()
	require.True(t, ok)
	require.Equal(t, "p@ss:w/rd", password)
	require.Equal(t, "require", parsed.Query().Get("sslmode"))
	require.Equal(t, "public", parsed.Query().Get("search_path"))
}

func TestBuildPostgresDSNPassthroughAndValidation(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "host=custom"})
	require.NoError(t, err)
	require.Equal(t, "host=custom", dsn)

	_, err = buildPostgresDSN(Config{Host: "localhost"})
	require.ErrorContains(t, err, "requires user and database name")
}

func TestBuildMySQLDSNRoundTripsThroughDriver(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "ops",
		Password: "secret",
		Name:     "projects",
		Host:     "db.example.com",
		Port:     3307,
		Options:  map[string]string{"tls": "skip-verify"},
	})
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	require.Equal(t, "ops", parsed.User)
	require.Equal(t, "secret", parsed.Passwd)
	require.Equal(t, "db.example.com:3307", parsed.Addr)
	require.Equal(t, "projects", parsed.DBName)
	require.True(t, parsed.ParseTime)
	require.Equal(t, "skip-verify", parsed.TLSConfig)
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "taskly", Name: "taskly"})
	require.NoError(t, err)
	require.Contains(t, dsn, "taskly@tcp(127.0.0.1:3306)/taskly?")
	require.Contains(t, dsn, "charset=utf8mb4")
	require.Contains(t, dsn, "parseTime=true")

	_, err = buildMySQLDSN(Config{Host: "localhost"})
	require.ErrorContains(t, err, "requires user and database name")
}
