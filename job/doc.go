// Package job defines the job record and everything that governs its
// lifecycle: the status state machine, the retry/dead-letter policy applied
// on failure, the handler registry that dispatches jobs by type, the Store
// contract every backend implements, and the submission Service.
//
// A job moves through four statuses. It is created QUEUED, claimed into
// RUNNING by exactly one worker, and finalized to SUCCEEDED, back to QUEUED
// with a delayed run-at on a retryable failure, or to DEAD_LETTERED once its
// attempt budget is exhausted. Dead-lettered jobs stay in the store as audit
// records until an operator requeues them.
package job
