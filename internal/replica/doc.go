// Package replica is the client-side local replica of a workspace's blocks.
//
// A Replica ties the pieces together: the block store, the projection
// builder, the reconciliation engine for pushed deltas and the undo manager
// for local commands. It is what a renderer and a push channel talk to.
//
// Writes come from two places, local commands and pushed deltas, and both
// run under one write lock. An optimistic apply, its rollback and a delta
// batch are each atomic with respect to the others; between them the
// store's last-writer-wins rule decides.
//
// Pushed deltas can be applied directly with OnDeltas, or enqueued from any
// goroutine with Enqueue and drained by a single Run loop:
//
//	client, _ := remote.NewClient(url, workspaceID, codec)
//	r := replica.New(client, replica.WithFetcher(client))
//	r.Subscribe(boardID)
//	go r.Run(ctx)
//	push.Run(ctx, r) // calls r.Enqueue and r.RequestResync
package replica
