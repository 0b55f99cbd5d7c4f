package indexer

import (
	"fmt"
	"os"
)

// Config holds the indexer process's configuration, filled from
// AV_-prefixed environment variables and overridden by CLI flags (spec
// §6 "Configuration").
type Config struct {
	ListenAddr string
	TLSCert    string
	TLSKey     string

	RPCReadEndpoint  string
	RPCWriteEndpoint string

	DatabaseDSN string

	ProgramID string

	ReaderConcurrency int
	MaxIngestConcurrency int64
}

func NewConfig(args ...string) *Config {
	c := &Config{
		ListenAddr:           getEnv("AV_LISTEN_ADDR", "0.0.0.0:8443"),
		TLSCert:              getEnv("AV_TLS_CERT", "indexer.crt"),
		TLSKey:               getEnv("AV_TLS_KEY", "indexer.key"),
		RPCReadEndpoint:      getEnv("AV_RPC_READ", "http://127.0.0.1:8899"),
		RPCWriteEndpoint:     getEnv("AV_RPC_WRITE", "http://127.0.0.1:8899"),
		DatabaseDSN:          getEnv("AV_DATABASE_DSN", "postgres://localhost/anon_vote?sslmode=disable"),
		ProgramID:            getEnv("AV_PROGRAM_ID", ""),
		ReaderConcurrency:    1,
		MaxIngestConcurrency: 3,
	}

	for i := 0; i < len(args); i++ {
		if len(args) <= i+1 {
			panic(fmt.Errorf("missing argument for %s", args[i]))
		}
		switch args[i] {
		case "--listen":
			c.ListenAddr = args[i+1]
		case "--tls-cert":
			c.TLSCert = args[i+1]
		case "--tls-key":
			c.TLSKey = args[i+1]
		case "--rpc-read":
			c.RPCReadEndpoint = args[i+1]
		case "--rpc-write":
			c.RPCWriteEndpoint = args[i+1]
		case "--database-dsn":
			c.DatabaseDSN = args[i+1]
		case "--program-id":
			c.ProgramID = args[i+1]
		}
		i++
	}
	return c
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
