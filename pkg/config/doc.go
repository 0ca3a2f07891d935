// Package config loads service configuration from TUTORHUB_* environment
// variables and validates it.
//
// Server:
//
//	TUTORHUB_HOST="0.0.0.0"
//	TUTORHUB_PORT="3000"
//	TUTORHUB_HEALTH_PORT="9090"
//	TUTORHUB_REQUEST_TIMEOUT="20s"
//	TUTORHUB_CORS_ORIGINS="https://tutorhub.example.com"
//
// Storage:
//
//	TUTORHUB_STORAGE="postgres"  # memory, postgres
//	TUTORHUB_DATABASE_URL="postgres://localhost/tutorhub?sslmode=disable"
//	TUTORHUB_DATABASE_REPLICA_URLS="postgres://replica1/tutorhub,postgres://replica2/tutorhub"
//	TUTORHUB_REDIS_URL="redis://localhost:6379"
//	TUTORHUB_AVATAR_BACKEND="filesystem"  # filesystem, s3
//	TUTORHUB_S3_BUCKET="tutorhub-avatars"
//	TUTORHUB_S3_REGION="eu-central-1"
//
// Sessions:
//
//	TUTORHUB_ENV="production"
//	TUTORHUB_JWT_SECRET="..."       # at least 32 bytes in production
//	TUTORHUB_JWT_EXPIRY="168h"
//	TUTORHUB_BCRYPT_COST="12"
//	TUTORHUB_COOKIE_SECURE="true"   # defaults to true in production
//	TUTORHUB_SESSION_KEY="..."      # signs the OAuth state cookie
//
// Login and registration limiter:
//
//	TUTORHUB_LOGIN_RATE_LIMIT="3"
//	TUTORHUB_LOGIN_RATE_WINDOW="1m"
//	TUTORHUB_RATE_LIMIT_BACKEND="memory"  # memory, redis
//
// External identity provider:
//
//	TUTORHUB_IDP_ENABLED="true"
//	TUTORHUB_IDP_ISSUER="https://id.example.com"
//	TUTORHUB_IDP_JWKS_URL="https://id.example.com/.well-known/jwks.json"
//	TUTORHUB_IDP_AUDIENCE="tutorhub"
//	TUTORHUB_IDP_CLIENT_ID="tutorhub-web"
//	TUTORHUB_IDP_AUTH_URL="https://id.example.com/authorize"
//	TUTORHUB_IDP_TOKEN_URL="https://id.example.com/token"
//	TUTORHUB_IDP_API_URL="https://id.example.com/api"
//
// Observability:
//
//	TUTORHUB_LOG_LEVEL="info"  # debug, info, warn, error
//	TUTORHUB_AUDIT_LOG="stdout"
//	TUTORHUB_METRICS_ENABLED="true"
//	TUTORHUB_OTEL_ENABLED="true"
//	TUTORHUB_OTEL_ENDPOINT="otel-collector:4317"
//
// Outside production a missing JWT secret falls back to a fixed development
// value and Auth.DefaultSecret is set so the caller can warn about it.
package config
