// Package projection derives read-only board views from the flat block store.
//
// Build selects the live blocks of one board, resolves the active view, then
// filters, groups and sorts the board's cards the way the view describes.
// The result is an immutable Projection: accessors hand out copies and a
// rebuild always produces a new value. Building is pure. The same store
// contents and Request yield byte-identical Canonical output, which is what
// the golden tests and the reconciliation engine compare.
//
// # Visibility
//
// A block is visible when it is live and every ancestor up to the board is
// live. Children of a tombstoned parent stay in the store and reappear as
// soon as the parent is restored.
//
// # Grouping
//
// Board and table views partition cards by a select property. There is one
// group per option in the board's option order, preceded by a synthetic
// "no value" group (empty option id) holding cards whose value is empty or
// refers to an option the board no longer defines. A group is hidden only
// when its option id is listed in the view's hiddenOptionIds; the "no value"
// group is therefore visible unless "" is hidden explicitly.
package projection
