// Package harness runs replica scenarios described in YAML.
//
// A scenario seeds a replica with blocks, drives it through a flow of
// intents, undo/redo steps and pushed deltas against a scripted remote, and
// then checks projections, block state, history depth and the calls the
// remote received.
//
// # Scenario Format
//
//	name: grouped_undo
//	description: "Undo reverts a whole group"
//	fixture: status_board        # or seed: [wire blocks...]
//	subscribe: [b1]
//	open: [b1/v1]
//	ids: [n1, n2]
//	flow:
//	  - invoke: begin_group
//	  - invoke: change_title
//	    args: { id: c1, title: "Renamed" }
//	  - invoke: end_group
//	    args: { description: "do two" }
//	  - invoke: undo
//	  - invoke: insert_card
//	    args: { board: b1, title: "New" }
//	    remote: reject
//	    expect: { outcome: REMOTE_REJECTED }
//	assertions:
//	  - type: projection
//	    request: b1/v1
//	    group_ids: ["", todo, done]
//	    groups: [[c2], [c1], []]
//	  - type: block
//	    id: n1
//	    expect: { exists: false }
//	  - type: history
//	    expect: { undo: 0, redo: 1 }
//	  - type: remote_calls
//	    calls: ["update:c1"]
//
// Blocks in seed, fetch and the deltas/insert_block args use the wire JSON
// shape and go through the same schema validation as pushed blocks.
//
// # Assertion Types
//
//   - projection: group ids, card ids per group, hidden groups, the flat
//     card list, the resolved view, or not_found
//   - block: exists, deleted, title, type, parent, modified_by, properties
//   - history: undo and redo depth and descriptions
//   - remote_calls: every call the remote received, in order
//   - rebuilt: the projections rebuilt by one flow step
//
// # Determinism
//
// Every scenario runs with a manual clock starting at the scenario's clock
// value, a fixed id sequence and a fresh replica, so the same file always
// produces the same trace and projections. RunWithGolden compares that
// output against a goldie snapshot.
package harness
