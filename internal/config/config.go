package config

import (
	"errors"
	"maps"
	"slices"
	"time"
)

const (
	StorageHTTP = "http"
	StorageS3   = "s3"

	// S3 rejects multipart parts smaller than this, except the last one
	MinS3PartSize = 5 * 1024 * 1024
)

var (
	ErrInvalidChunkSize     = errors.New("chunk size must be greater than 0")
	ErrInvalidConcurrency   = errors.New("simultaneous uploads must be at least 1")
	ErrInvalidRetries       = errors.New("max chunk retries must not be negative")
	ErrInvalidSuccessCode   = errors.New("at least one success code must be set")
	ErrInvalidFileMaxSize   = errors.New("file max size must be greater than 0")
	ErrInvalidRetryInterval = errors.New("chunk retry intervals must not be negative")
	ErrInvalidStorage       = errors.New("storage must be one of: http, s3")
	ErrMissingUploadURL     = errors.New("upload URL must be set")
	ErrMissingMergeURL      = errors.New("merge URL must be set")
	ErrMissingBucket        = errors.New("S3 bucket must be set")
	ErrS3ChunkTooSmall      = errors.New("S3 storage requires a chunk size of at least 5 MiB")
	ErrInvalidFirebaseURL   = errors.New("Firebase database URL must be set")
	ErrInvalidFirebaseCreds = errors.New("Firebase credentials path must be set")
)

// Config holds all application configuration. A Config is built once and
// shared by pointer; nothing mutates it after construction.
type Config struct {
	ChunkSize             int64             `mapstructure:"chunkSize" json:"chunkSize"`
	SimultaneousUploads   int               `mapstructure:"simultaneousUploads" json:"simultaneousUploads"`
	IsSingleFile          bool              `mapstructure:"isSingleFile" json:"isSingleFile"`
	FileParameterName     string            `mapstructure:"fileParameterName" json:"fileParameterName"`
	Headers               map[string]string `mapstructure:"headers" json:"headers"`
	UploadURL             string            `mapstructure:"uploadUrl" json:"uploadUrl"`
	MergeURL              string            `mapstructure:"mergeUrl" json:"mergeUrl"`
	CheckURL              string            `mapstructure:"checkUrl" json:"checkUrl"`
	UploadFolderPath      string            `mapstructure:"uploadFolderPath" json:"uploadFolderPath"`
	FileMaxSize           int64             `mapstructure:"fileMaxSize" json:"fileMaxSize"`
	FileTypeLimit         []string          `mapstructure:"fileTypeLimit" json:"fileTypeLimit"`
	MaxChunkRetries       int               `mapstructure:"maxChunkRetries" json:"maxChunkRetries"`
	SuccessCode           []int             `mapstructure:"successCode" json:"successCode"`
	IsAutoStart           bool              `mapstructure:"isAutoStart" json:"isAutoStart"`
	RequestTimeout        time.Duration     `mapstructure:"requestTimeout" json:"requestTimeout"`
	ChunkRetryInterval    time.Duration     `mapstructure:"chunkRetryInterval" json:"chunkRetryInterval"`
	ChunkRetryMaxInterval time.Duration     `mapstructure:"chunkRetryMaxInterval" json:"chunkRetryMaxInterval"`
	Storage               string            `mapstructure:"storage" json:"storage"`

	S3       S3Config       `mapstructure:"s3" json:"s3"`
	Firebase FirebaseConfig `mapstructure:"firebase" json:"firebase"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

// S3Config holds settings for the S3 multipart chunk store
type S3Config struct {
	Bucket         string `mapstructure:"bucket" json:"bucket"`
	Region         string `mapstructure:"region" json:"region"`
	Endpoint       string `mapstructure:"endpoint" json:"endpoint"`
	ForcePathStyle bool   `mapstructure:"forcePathStyle" json:"forcePathStyle"`
	KeyPrefix      string `mapstructure:"keyPrefix" json:"keyPrefix"`
}

// FirebaseConfig holds Firebase client configuration for the status board
type FirebaseConfig struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled"`
	ProjectID       string `mapstructure:"projectId" json:"projectId"`
	DatabaseURL     string `mapstructure:"databaseUrl" json:"databaseUrl"`
	CredentialsPath string `mapstructure:"credentialsPath" json:"credentialsPath"`
	RootPath        string `mapstructure:"rootPath" json:"rootPath"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		ChunkSize:             2 * 1024 * 1024, // 2 MiB
		SimultaneousUploads:   1,
		FileParameterName:     "file",
		Headers:               map[string]string{},
		FileMaxSize:           200 * 1024 * 1024, // 200 MiB
		FileTypeLimit:         []string{},
		MaxChunkRetries:       3,
		SuccessCode:           []int{20000},
		IsAutoStart:           true,
		ChunkRetryMaxInterval: 30 * time.Second,
		Storage:               StorageHTTP,
		Firebase: FirebaseConfig{
			RootPath: "uploads",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.SimultaneousUploads < 1 {
		return ErrInvalidConcurrency
	}
	if c.MaxChunkRetries < 0 {
		return ErrInvalidRetries
	}
	if len(c.SuccessCode) == 0 {
		return ErrInvalidSuccessCode
	}
	if c.FileMaxSize <= 0 {
		return ErrInvalidFileMaxSize
	}
	if c.ChunkRetryInterval < 0 || c.ChunkRetryMaxInterval < 0 {
		return ErrInvalidRetryInterval
	}

	switch c.Storage {
	case StorageHTTP:
		if c.UploadURL == "" {
			return ErrMissingUploadURL
		}
		if c.MergeURL == "" {
			return ErrMissingMergeURL
		}
	case StorageS3:
		if c.S3.Bucket == "" {
			return ErrMissingBucket
		}
		if c.ChunkSize < MinS3PartSize {
			return ErrS3ChunkTooSmall
		}
	default:
		return ErrInvalidStorage
	}

	if c.Firebase.Enabled {
		if c.Firebase.DatabaseURL == "" {
			return ErrInvalidFirebaseURL
		}
		if c.Firebase.CredentialsPath == "" {
			return ErrInvalidFirebaseCreds
		}
	}
	return nil
}

// IsSuccessCode reports whether an application response code counts as success
func (c *Config) IsSuccessCode(code int) bool {
	return slices.Contains(c.SuccessCode, code)
}

// ResumeCheckURL returns the endpoint queried before a file is transferred
func (c *Config) ResumeCheckURL() string {
	if c.CheckURL != "" {
		return c.CheckURL
	}
	return c.UploadURL
}

// TotalChunks returns how many chunks a file of size bytes is split into
func (c *Config) TotalChunks(size int64) int {
	if size <= 0 {
		return 0
	}
	return int((size + c.ChunkSize - 1) / c.ChunkSize)
}

// clone returns a deep copy so callers cannot reach into shared maps or slices
func (c *Config) clone() *Config {
	out := *c
	out.Headers = maps.Clone(c.Headers)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	out.FileTypeLimit = slices.Clone(c.FileTypeLimit)
	out.SuccessCode = slices.Clone(c.SuccessCode)
	return &out
}
