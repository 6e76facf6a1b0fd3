// Package provision makes a verified model artifact available on local
// storage. It is structured into small files by concern:
//
//   - provisioner.go: Provisioner, EnsureReady and the chunked transfer loop.
//   - source.go: where bytes come from (bootstrap directory or HTTP with Range).
//   - layout.go: on-disk layout, status sidecar, installed-artifact listing.
//   - checksum.go: streaming SHA-256 helpers.
//   - progress.go: coalesced progress reporting.
//   - errors.go: IOError, IntegrityError and predicates.
//   - metrics.go: prometheus collectors.
//
// The checksum is the only source of truth for readiness. A final artifact
// only ever appears through an atomic rename of a verified partial file.
package provision
