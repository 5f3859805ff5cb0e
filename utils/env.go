package utils

import "os"

var (
	CRDB_DSN = os.Getenv("CRDB_DSN")
	MIGRATE  = os.Getenv("MIGRATE") == "1"

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	// FILE_IO selects the table storage backend, either `local` or `s3`.
	FILE_IO = GetEnvOrDefault("FILE_IO", "local")
	// TABLE_ROOT is the table directory (local) or key prefix (s3).
	TABLE_ROOT = GetEnvOrDefault("TABLE_ROOT", "./data")

	// CHANGELOG_BUFFER_BYTES bounds the bytes of changelog files held in memory by one compaction.
	CHANGELOG_BUFFER_BYTES = GetEnvOrDefaultInt("CHANGELOG_BUFFER_BYTES", 64*1024*1024)
	COMPACT_POOL_SIZE      = GetEnvOrDefaultInt("COMPACT_POOL_SIZE", 8)
)
