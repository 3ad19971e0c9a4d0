// Package core loads spreadsheet and delimited-text files into relational
// tables.
//
// The package holds all domain logic independent of any transport. It is
// used by the HTTP handlers in internal/web and by tests without
// modification.
//
// # Pipeline
//
// A file flows through five stages:
//
//   - Source reader: [OpenSource] yields a [RowStream]. CSV is streamed with
//     BOM and encoding handling; workbooks are decoded whole and their header
//     row is found by scanning the first rows for the widest one.
//   - Schema inference: [InferSchema] proposes INTEGER, DECIMAL(10,2),
//     DATETIME or VARCHAR columns from a small sample.
//   - Value normalization: [NormalizeValue] rewrites recognised dates to
//     "YYYY-MM-DD HH:MM:SS" and blank cells to NULL.
//   - Batch loader: [Loader] writes fixed-size batches to a sink.Sink, one
//     batch in flight at a time.
//   - Reporter: [Reporter] tracks phase and counters and fans updates out
//     to subscribers.
//
// # Entry Points
//
// [Service.Analyze] returns a proposed column set and preview rows without
// touching the database. [Service.Upload] runs the full pipeline and blocks;
// [Service.StartUpload] runs it in the background and is observed through
// [Service.SubscribeProgress] and [Service.GetUploadResult]. Both delete the
// spooled file when they finish, whatever the outcome.
//
// # Failure Semantics
//
// Batches commit independently. The first rejected batch stops the upload
// with a [*SinkRejectedError]; earlier batches stay committed and there is no
// rollback. Under the default ignore policy a re-run skips rows already
// present, so re-uploading after a fix is safe.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Each
// category has a code for support reference:
//
//   - SRC001-SRC002: unreadable or empty source files
//   - SNK000-SNK008: batch rejections by the database
//   - UPL001-UPL005: cancelled, busy, expired or timed-out uploads
//   - VAL001-VAL003: invalid column sets or table names
package core
