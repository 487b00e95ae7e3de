package config

import (
	"flag"
	"os"
	"time"

	"github.com/dkovalev/vaultcore/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-k int      handshake expiry, minutes
//	-s int      session expiry, minutes
//	-m int      session max requests (0 = unlimited)
//	-i int      cleanup sweep interval, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-k", "-s", "-m", "-i", "-u", "-p", "-b", "-g", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	handshakeExpiry := fs.Int("k", int(config.HandshakeExpiry.Minutes()), "handshake expiry (in minutes)")
	sessionExpiry := fs.Int("s", int(config.SessionExpiry.Minutes()), "session expiry (in minutes)")
	fs.Int64Var(&config.SessionMaxRequests, "m", config.SessionMaxRequests, "session max requests (0 = unlimited)")
	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Minutes()), "cleanup sweep interval (in minutes)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.HandshakeExpiry = time.Duration(*handshakeExpiry) * time.Minute
	config.SessionExpiry = time.Duration(*sessionExpiry) * time.Minute
	config.CleanupInterval = time.Duration(*cleanupInterval) * time.Minute
}
