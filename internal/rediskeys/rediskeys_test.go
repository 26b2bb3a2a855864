package rediskeys

import "testing"

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"attempt", AttemptKey("abc"), "job:attempt:abc"},
		{"data", JobDataKey("xyz"), "job:data:xyz"},
		{"retry set", RetryJobsKey, "retry:jobs"},
		{"retry lock", RetryLockKey, "retry:lock"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s key = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestDataOutlivesLock(t *testing.T) {
	if LockTTL <= 0 || JobDataTTL <= LockTTL {
		t.Fatalf("JobDataTTL %v must exceed LockTTL %v", JobDataTTL, LockTTL)
	}
	if JobDataTTL < AttemptTTL {
		t.Fatalf("JobDataTTL %v shorter than AttemptTTL %v", JobDataTTL, AttemptTTL)
	}
}
