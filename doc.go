// Package baton is a persistent, multi-worker job queue backed by a single
// relational store. Clients submit jobs identified by a type and an opaque
// payload; a pool of independent workers polls the shared store, atomically
// claims one eligible job at a time, executes it through a registered
// handler, and records success or failure with automatic retry and eventual
// dead-lettering.
//
// Claiming is concurrency-safe without any cross-worker locks: the store's
// row-level lock-and-skip primitive (SELECT ... FOR UPDATE SKIP LOCKED on
// PostgreSQL) guarantees that concurrent claim attempts observe disjoint
// candidate rows. A background reaper returns jobs abandoned by crashed
// workers to the queue through the same retry accounting as ordinary
// failures, so a job can never exceed its attempt budget.
//
// # Architecture
//
// Each subsystem lives in its own package: job (record, lifecycle policy,
// handler registry, store contract, submission service), worker (executor,
// ticking supervisors, stale-job reaper), backoff (retry delay strategies),
// dlq (dead-letter operator actions), metrics (in-process counters), cron
// (recurring submissions), and api (HTTP surface). Store backends implement
// job.Store: store/postgres (pgx), store/bun (Bun ORM), and store/memory
// (testing and development).
//
// This root package holds what every subsystem shares: sentinel errors and
// process configuration.
package baton
