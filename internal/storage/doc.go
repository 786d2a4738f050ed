// Package storage implements datastor's append-only record store: records
// are grouped into one file per UTC hour, and each finished UTC day is
// packed into a single compressed archive.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│    Store    │────▶│   Bucket    │────▶│    Frame    │
//	│  (facade)   │     │   Writer    │     │ / JSON line │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │
//	       ▼
//	┌─────────────┐     ┌─────────────┐
//	│   Archive   │────▶│  Retention  │
//	│   Trigger   │     │   Manager   │
//	└─────────────┘     └─────────────┘
//
// On-disk layout:
//
//	<root>/20240101/202401011000.bin
//	<root>/20240101/202401011200.bin
//	<root>/20240102/202401021100.bin
//	<root>/20231231.tar.gz
//
// Every bucket file starts with a header (a header frame for binary files,
// a {"header":"<program>"} line for JSON files) followed by records in
// arrival order. Binary records are frames:
//
//	"DSFR" | frame_size u32le | payload_size u32le | payload | 0xFF pad | "DSFR"
//
// The store provides:
//   - Hourly rotation with at most one new file per record
//   - Binary and JSON record encodings behind one generic API
//   - Synchronous end-of-day archival with per-file digest verification
//   - gzip, zstd, snappy and lz4 archive codecs
//   - Age-based archive retention
package storage
