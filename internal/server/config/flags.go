package config

import (
	"flag"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-g string   gRPC bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-m string   storage: postgres or memory
//	-s string   JWT HMAC secret key
//	-l string   node kind: rest or fake
//	-n string   node gateway URL
//	-k string   node gateway API key
//	-r int      node reconnect delay, seconds
//	-i int      reconciliation sweep interval, minutes (0 = only on connect)
//	-f string   log format: json or text
//	-v string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-o string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// Notes:
//   - args are first filtered to the flags handled here using
//     flagx.FilterArgs, avoiding collisions with -c.
//   - Duration flags are integers and converted to time.Duration values.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-g", "-d", "-m", "-s", "-l", "-n", "-k", "-r", "-i",
		"-f", "-v", "-u", "-p", "-b", "-o", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "HTTP address and port")
	fs.StringVar(&config.EndpointAddrGRPC, "g", config.EndpointAddrGRPC, "gRPC address and port")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.Storage, "m", config.Storage, "storage (postgres|memory)")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	fs.StringVar(&config.NodeKind, "l", config.NodeKind, "payment node kind (rest|fake)")
	fs.StringVar(&config.NodeURL, "n", config.NodeURL, "payment node gateway URL")
	fs.StringVar(&config.NodeAPIKey, "k", config.NodeAPIKey, "payment node gateway API key")

	reconnectDelay := fs.Int("r", int(config.ReconnectDelay.Seconds()), "node reconnect delay (in seconds)")
	sweepInterval := fs.Int("i", int(config.SweepInterval.Minutes()), "sweep interval (in minutes)")

	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json|text)")
	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket for sweep reports")
	fs.StringVar(&config.S3Region, "o", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.ReconnectDelay = time.Duration(*reconnectDelay) * time.Second
	config.SweepInterval = time.Duration(*sweepInterval) * time.Minute
	return nil
}
