// Package domain defines the core types of the engagement sync pipeline.
//
// Types in this package are value objects shared by the fetcher, the store
// implementations, the resolution engine and the materializer. They carry
// no database handles and no HTTP concerns.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Pure functions on the types are allowed (merge rules, accessors)
//   - Constants and enums belong here
package domain
