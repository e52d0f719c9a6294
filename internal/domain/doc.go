// Package domain defines the core business types for the messaging
// engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and state-machine checks, no database dependencies, and
// no HTTP concerns. They are the shared language between the webhook
// path, the orchestrator, and storage.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation and transition methods are allowed (pure functions)
//   - Constants and enums belong here
package domain
