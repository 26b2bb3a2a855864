// Package rediskeys names the keys the worker and the retry dispatcher share
// in Redis. The relational ledger stays the source of truth for job state;
// these keys only carry retry bookkeeping.
package rediskeys

import "time"

const (
	// RetryJobsKey is a sorted set of job ids scored by due time in unix millis.
	RetryJobsKey = "retry:jobs"
	// RetryLockKey is held by the dispatcher instance currently draining RetryJobsKey.
	RetryLockKey = "retry:lock"

	AttemptTTL = 14 * 24 * time.Hour
	JobDataTTL = AttemptTTL
	LockTTL    = 30 * time.Second
)

func AttemptKey(jobID string) string { return "job:attempt:" + jobID }

// JobDataKey holds the raw command of a job parked in RetryJobsKey.
func JobDataKey(jobID string) string { return "job:data:" + jobID }
