// Package store provides the durable key-value backend for the notification
// ledger and the escalation counter.
//
// The contract is deliberately small: byte values, per-key TTL enforced by the
// backend, an atomic increment with TTL refresh, and a prefix scan. Record
// typing lives one level up in internal/ledger.
//
// Backends: redis (shared cache store), sqlite (embedded file), memory
// (development and tests). Entries always expire server-side as a safety net
// against records leaked by a crashed pass.
package store
