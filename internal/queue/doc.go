// Package queue defines the message-queue collaborator used between the
// client, the coordinator and workers, plus the lease bookkeeping shared by
// its implementations.
//
// Two brokers implement [Queue]:
//   - memqueue: in-process, for single-process runs and tests.
//   - dirqueue: one directory per queue on a shared filesystem, guarded by
//     flock(2), for coordinator and workers running as separate processes.
//
// Delivery is at-least-once. A received message stays invisible until its
// lease expires; [Queue.ExtendLease] pushes that deadline forward and never
// pulls it back, so repeated extensions are harmless. Each delivery has its
// own token and a redelivered message invalidates the previous token.
//
// Message attributes are a flat string map; the Attr* constants name the
// keys used by the job protocol.
package queue
