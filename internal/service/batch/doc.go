// Package batch implements batch ingestion and the pull-based batch summary.
//
// It defines the Repository contract (the recipient store) consumed by the
// dispatch pipeline and the progress stream. Implementations live in
// repository/postgres/ and repository/memory/.
package batch
