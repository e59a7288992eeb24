package collection

import "testing"

func TestCanTransitionJob(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusPending, true},
		{JobStatusProcessing, JobStatusDone, true},
		{JobStatusProcessing, JobStatusEmptyResult, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusProcessing, JobStatusQuotaExceeded, true},
		{JobStatusEmptyResult, JobStatusPending, true},
		{JobStatusEmptyResult, JobStatusVerified, true},
		{JobStatusDone, JobStatusVerified, true},
		{JobStatusFailed, JobStatusDone, true},
		{JobStatusPending, JobStatusDone, false},
		{JobStatusFailed, JobStatusPending, false},
		{JobStatusQuotaExceeded, JobStatusDone, false},
		{JobStatusVerified, JobStatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransitionJob(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("CanTransitionJob(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestValidateJobTransition(t *testing.T) {
	if err := ValidateJobTransition(JobStatusPending, JobStatusProcessing); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateJobTransition(JobStatusFailed, JobStatusPending); err == nil {
		t.Fatalf("expected failed -> pending to be rejected")
	}
}

func TestJobStatusPredicates(t *testing.T) {
	if !JobStatusPending.Active() || !JobStatusProcessing.Active() {
		t.Fatalf("pending/processing must be active")
	}
	if JobStatusDone.Active() {
		t.Fatalf("done must not be active")
	}
	for _, s := range []JobStatus{
		JobStatusDone, JobStatusVerified, JobStatusEmptyResult,
		JobStatusFailed, JobStatusQuotaExceeded,
	} {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	if JobStatusPending.Terminal() {
		t.Fatalf("pending must not be terminal")
	}
}

func TestReplyQuery(t *testing.T) {
	if got := ReplyQuery("12345"); got != "reply:12345" {
		t.Fatalf("ReplyQuery = %q", got)
	}
}

func TestResultPath(t *testing.T) {
	j := Job{Country: "uy", Platform: PlatformTwitter, CandidateID: "cand-7", PostID: "999"}
	if got := j.ResultPath(); got != "uy/twitter/cand-7/999.json" {
		t.Fatalf("ResultPath = %q", got)
	}
}
