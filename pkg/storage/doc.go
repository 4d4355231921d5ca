// Package storage provides the backends gatehouse reads through but does not
// own: project document objects served behind signed file links, and the
// PostgreSQL connection pool shared by the stores.
//
// # Documents
//
// Documents are addressed by key. Every key lives under its project's
// namespace:
//
//	projects/<project_id>/<path>
//
// so a file link minted for one project can never name another project's
// object. Two Fetcher implementations exist:
//
//   - FilesystemFetcher: a directory tree, for development and single-node
//     installs
//   - S3Fetcher: any S3-compatible bucket (AWS, MinIO) via aws-sdk-go-v2
//
// # PostgreSQL
//
// OpenPostgres opens a lib/pq pool, applies the pool limits and pings the
// server before returning it.
package storage
