// Package config loads gatehouse configuration.
//
// Values come from an optional YAML file named by GATEHOUSE_CONFIG_FILE and
// are then overridden by environment variables.
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="8080"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_SHUTDOWN_TIMEOUT="30s"
//	GATEHOUSE_PUBLIC_REQUESTS_PER_MINUTE="120"  # 0 disables
//	GATEHOUSE_PIN_ATTEMPTS_PER_MINUTE="10"
//
// Storage settings:
//
//	GATEHOUSE_STORAGE_TYPE="postgres"  # postgres or memory
//	GATEHOUSE_POSTGRES_URL="postgres://localhost/gatehouse?sslmode=disable"
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"  # optional catalog cache
//
// Document settings (file links):
//
//	GATEHOUSE_DOCUMENTS_BACKEND="s3"  # filesystem, s3 or empty to disable
//	GATEHOUSE_DOCUMENTS_DIR="/var/lib/gatehouse/documents"
//	GATEHOUSE_S3_BUCKET="project-documents"
//	GATEHOUSE_S3_ENDPOINT="http://minio:9000"
//	GATEHOUSE_S3_USE_PATH_STYLE="true"
//
// Authorization settings:
//
//	GATEHOUSE_SUPERADMIN_IDS="user-1,user-2"
//	GATEHOUSE_SUPERADMIN_EMAILS="ops@example.com"
//	GATEHOUSE_SIGNED_TOKEN_SECRET="..."            # at least 32 bytes
//	GATEHOUSE_SIGNED_TOKEN_PREVIOUS_SECRETS="..."  # comma separated
//	GATEHOUSE_PIN_SESSION_SECRET="..."             # at least 32 bytes
//	GATEHOUSE_CATALOG_TTL="60s"
//
// Audit settings:
//
//	GATEHOUSE_AUDIT_ASYNC="true"
//	GATEHOUSE_AUDIT_RETENTION="2160h"
//	GATEHOUSE_AUDIT_RETENTION_SCHEDULE="@daily"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_OTEL_ENABLED="false"
//	GATEHOUSE_OTEL_ENDPOINT="localhost:4317"
package config
