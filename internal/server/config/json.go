package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/zapzap/internal/flagx"
	"github.com/dmitrijs2005/zapzap/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "1s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. Non-zero fields are copied into the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP   string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC   string         `json:"endpoint_addr_grpc"`
	DatabaseDSN        string         `json:"database_dsn"`
	Storage            string         `json:"storage"`
	SecretKey          string         `json:"secret_key"`
	NodeKind           string         `json:"node_kind"`
	NodeURL            string         `json:"node_url"`
	NodeAPIKey         string         `json:"node_api_key"`
	NodeRequestTimeout timex.Duration `json:"node_request_timeout"`
	ReconnectDelay     timex.Duration `json:"reconnect_delay"`
	SweepInterval      timex.Duration `json:"sweep_interval"`
	HubCleanupInterval timex.Duration `json:"hub_cleanup_interval"`
	HubStaleAfter      timex.Duration `json:"hub_stale_after"`
	HubBufferSize      int            `json:"hub_buffer_size"`
	ForwardTimeout     timex.Duration `json:"forward_timeout"`
	ResolverTimeout    timex.Duration `json:"resolver_timeout"`
	LogFormat          string         `json:"log_format"`
	LogLevel           string         `json:"log_level"`
	S3RootUser         string         `json:"s3_root_user"`
	S3RootPassword     string         `json:"s3_root_password"`
	S3Bucket           string         `json:"s3_bucket"`
	S3Region           string         `json:"s3_region"`
	S3BaseEndpoint     string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from the JSON file named by the -c or
// -config flag in args. Without the flag nothing is loaded.
//
// Keys missing from the file keep the value already present in config.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.Storage, c.Storage)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.NodeKind, c.NodeKind)
	setString(&config.NodeURL, c.NodeURL)
	setString(&config.NodeAPIKey, c.NodeAPIKey)
	setString(&config.LogFormat, c.LogFormat)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)

	if c.NodeRequestTimeout.Duration != 0 {
		config.NodeRequestTimeout = c.NodeRequestTimeout.Duration
	}
	if c.ReconnectDelay.Duration != 0 {
		config.ReconnectDelay = c.ReconnectDelay.Duration
	}
	if c.SweepInterval.Duration != 0 {
		config.SweepInterval = c.SweepInterval.Duration
	}
	if c.HubCleanupInterval.Duration != 0 {
		config.HubCleanupInterval = c.HubCleanupInterval.Duration
	}
	if c.HubStaleAfter.Duration != 0 {
		config.HubStaleAfter = c.HubStaleAfter.Duration
	}
	if c.ForwardTimeout.Duration != 0 {
		config.ForwardTimeout = c.ForwardTimeout.Duration
	}
	if c.ResolverTimeout.Duration != 0 {
		config.ResolverTimeout = c.ResolverTimeout.Duration
	}
	if c.HubBufferSize != 0 {
		config.HubBufferSize = c.HubBufferSize
	}

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
