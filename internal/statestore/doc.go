// Package statestore persists task state and escalation entries in NATS
// JetStream key-value buckets, and publishes task lifecycle events on
// NATS subjects for external observers.
//
// The store is write-through: services keep their own in-memory indexes
// for fast lookups and call the store after each state change. Task
// records carry a TTL so abandoned state ages out on its own.
package statestore
