package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the loader reads
const EnvPrefix = "CHUNKUP"

// SetDefaults registers every default value on v so environment variables
// are recognized even when no config file sets the key
func SetDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("chunkSize", d.ChunkSize)
	v.SetDefault("simultaneousUploads", d.SimultaneousUploads)
	v.SetDefault("isSingleFile", d.IsSingleFile)
	v.SetDefault("fileParameterName", d.FileParameterName)
	v.SetDefault("headers", d.Headers)
	v.SetDefault("uploadUrl", d.UploadURL)
	v.SetDefault("mergeUrl", d.MergeURL)
	v.SetDefault("checkUrl", d.CheckURL)
	v.SetDefault("uploadFolderPath", d.UploadFolderPath)
	v.SetDefault("fileMaxSize", d.FileMaxSize)
	v.SetDefault("fileTypeLimit", d.FileTypeLimit)
	v.SetDefault("maxChunkRetries", d.MaxChunkRetries)
	v.SetDefault("successCode", d.SuccessCode)
	v.SetDefault("isAutoStart", d.IsAutoStart)
	v.SetDefault("requestTimeout", d.RequestTimeout)
	v.SetDefault("chunkRetryInterval", d.ChunkRetryInterval)
	v.SetDefault("chunkRetryMaxInterval", d.ChunkRetryMaxInterval)
	v.SetDefault("storage", d.Storage)

	v.SetDefault("s3.bucket", d.S3.Bucket)
	v.SetDefault("s3.region", d.S3.Region)
	v.SetDefault("s3.endpoint", d.S3.Endpoint)
	v.SetDefault("s3.forcePathStyle", d.S3.ForcePathStyle)
	v.SetDefault("s3.keyPrefix", d.S3.KeyPrefix)

	v.SetDefault("firebase.enabled", d.Firebase.Enabled)
	v.SetDefault("firebase.projectId", d.Firebase.ProjectID)
	v.SetDefault("firebase.databaseUrl", d.Firebase.DatabaseURL)
	v.SetDefault("firebase.credentialsPath", d.Firebase.CredentialsPath)
	v.SetDefault("firebase.rootPath", d.Firebase.RootPath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// ConfigureEnv makes v read CHUNKUP_* variables, e.g. CHUNKUP_S3_BUCKET
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a validated Config. The result owns its maps and
// slices, so later changes to v are not observed.
func Load(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	cfg = cfg.clone()
	// Config files lowercase map keys, so header names are canonicalized
	headers := make(map[string]string, len(cfg.Headers))
	for name, value := range cfg.Headers {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	cfg.Headers = headers
	for i, ext := range cfg.FileTypeLimit {
		cfg.FileTypeLimit[i] = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
