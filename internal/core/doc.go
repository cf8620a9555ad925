// Package core holds the domain logic for the event tracker: the
// structure model, spreadsheet change detection, event storage, and the
// import jobs that tie them together. It has no transport or UI
// dependencies and is shared by the HTTP server, the inbox watcher, and
// the CLI.
//
// # Structure
//
// The user's taxonomy is areas, nested categories, and per-category
// attribute definitions. A [Snapshot] is an immutable in-memory copy of
// all three with lookup indexes; [Service.Snapshot] loads one per
// operation. Spreadsheet uploads are compared against the snapshot with
// [BuildChangeSet], which produces a [ChangeSet] of pending inserts,
// updates, and deletes:
//
//	snap, _ := svc.Snapshot(ctx, userID)
//	cs := core.BuildChangeSet(sheet, snap, core.BuildOptions{FullReplace: true})
//	if cs.NeedsConfirmation() {
//	    // show the preview, then re-submit confirmed
//	}
//
// Deletes are only proposed in full-replace mode, after rename
// detection has paired removals against additions so that a renamed
// category keeps its events.
//
// # Events
//
// Events are dated entries under one category, with typed attribute
// values stored sparsely: a value row exists only when a cell was
// filled. [Service.ListEvents] handles filtering, sorting, paging, and
// numeric aggregation in SQL.
//
// # Imports as jobs
//
// Structure applies and the two event imports run as background jobs
// with per-row savepoints, so one bad row fails alone. Jobs are bounded
// by a [JobLimiter], report progress through [Service.SubscribeJob],
// and can be cancelled with [Service.CancelJob].
//
// # Errors
//
// Technical errors are mapped to user-facing messages with [MapError].
// Each category carries a stable code for support reference:
//
//   - DB001-DB013: database errors (constraints, connections)
//   - WB001-WB005: workbook errors (format, columns, size)
//   - IMP001-IMP005: import job errors (limits, cancellation)
//   - STR001-STR002: structure apply errors
//   - EVT001-EVT005: event value errors
//
// # Audit
//
// Every mutation writes an audit entry in the same transaction, with a
// severity that escalates for destructive operations. The maintenance
// scheduler moves old entries to an archive table and prunes expired
// structure backups.
package core
