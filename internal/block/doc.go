// Package block defines the entity model shared by every replica component.
//
// A Block is a Header (identity, ownership and version stamps) plus a Fields
// value. Fields is a closed union with one variant per block type:
//
//   - BoardFields: card property templates, icon, description
//   - ViewFields: view type, filter tree, sort options, grouping
//   - CardFields: property values, content order
//   - CommentFields, ContentFields: comments and content blocks
//
// Parent/child relationships are expressed by id only (ParentID, RootID).
// Nothing in this package holds a reference to another block; lookups go
// through the block store.
//
// # Versioning
//
// UpdateAt is the last-writer-wins version of a block. DeleteAt != 0 marks a
// tombstone. Local writes are stamped by Clock, which never hands out a value
// lower than any version it has observed, so a local edit always supersedes
// the version it was derived from.
package block
