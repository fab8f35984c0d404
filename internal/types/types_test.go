package types

import (
	"testing"
	"time"
)

func TestWindowIsEmpty(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		w    Window
		want bool
	}{
		{"normal", Window{From: now.Add(-time.Hour), To: now}, false},
		{"equal bounds", Window{From: now, To: now}, true},
		{"inverted", Window{From: now, To: now.Add(-time.Minute)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.w.IsEmpty(); got != tt.want {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowContainsIsHalfOpen(t *testing.T) {
	from := time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	w := Window{From: from, To: to}

	if !w.Contains(from) {
		t.Error("window should contain its lower bound")
	}
	if w.Contains(to) {
		t.Error("window should not contain its upper bound")
	}
	if w.Contains(from.Add(-time.Millisecond)) {
		t.Error("window should not contain instants before From")
	}
}

func TestFingerprintStatusTransitions(t *testing.T) {
	tests := []struct {
		from FingerprintStatus
		to   FingerprintStatus
		want bool
	}{
		{FingerprintNew, FingerprintKnown, true},
		{FingerprintNew, FingerprintNew, true},
		{FingerprintKnown, FingerprintKnown, true},
		{FingerprintKnown, FingerprintFixed, true},
		{FingerprintKnown, FingerprintIgnored, true},
		{FingerprintKnown, FingerprintNew, false},
		{FingerprintFixed, FingerprintKnown, false},
		{FingerprintIgnored, FingerprintNew, false},
		{FingerprintNew, FingerprintFixed, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestFindingStatusTransitions(t *testing.T) {
	if !FindingNew.CanTransitionTo(FindingTriaged) {
		t.Error("new -> triaged should be allowed")
	}
	if !FindingInProgress.CanTransitionTo(FindingFalsePositive) {
		t.Error("in_progress -> false_positive should be allowed")
	}
	if FindingFixed.CanTransitionTo(FindingNew) {
		t.Error("fixed is terminal")
	}
	if FindingNew.CanTransitionTo(FindingFixed) {
		t.Error("new -> fixed must pass through triage")
	}
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in     string
		want   Severity
		wantOK bool
	}{
		{"high", SeverityHigh, true},
		{"  CRITICAL ", SeverityCritical, true},
		{"Medium", SeverityMedium, true},
		{"sev1", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseSeverity(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseSeverity(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSeverityPriorityScore(t *testing.T) {
	if SeverityMedium.PriorityScore() != 0.5 {
		t.Errorf("medium priority = %v, want 0.5", SeverityMedium.PriorityScore())
	}
	if SeverityCritical.PriorityScore() <= SeverityHigh.PriorityScore() {
		t.Error("critical should outrank high")
	}
	if Severity("bogus").PriorityScore() != 0.5 {
		t.Error("unknown severity should fall back to the medium score")
	}
}

func TestFindingValidate(t *testing.T) {
	now := time.Now()
	f := Finding{
		ID:            "f-1",
		FingerprintID: "0123456789abcdef",
		Severity:      SeverityMedium,
		PriorityScore: 0.5,
		Status:        FindingNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("valid finding rejected: %v", err)
	}

	f.PriorityScore = 1.5
	if err := f.Validate(); err == nil {
		t.Error("expected error for out-of-range priority score")
	}

	f.PriorityScore = 0.5
	f.Severity = "urgent"
	if err := f.Validate(); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestFingerprintValidate(t *testing.T) {
	now := time.Now()
	fp := Fingerprint{ID: "abc", Status: FingerprintNew, FirstSeenAt: now, LastSeenAt: now}
	if err := fp.Validate(); err != nil {
		t.Fatalf("valid fingerprint rejected: %v", err)
	}

	fp.LastSeenAt = now.Add(-time.Minute)
	if err := fp.Validate(); err == nil {
		t.Error("expected error when last_seen precedes first_seen")
	}
}

func TestSourceQueryValidate(t *testing.T) {
	q := SourceQuery{ID: "default_exceptions", Query: `{job=~".+"} |= "Exception"`, Enabled: true}
	if err := q.Validate(); err != nil {
		t.Fatalf("valid source rejected: %v", err)
	}

	q.Query = "   "
	if err := q.Validate(); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestIntegrationIssueValidate(t *testing.T) {
	i := IntegrationIssue{Provider: "github", FingerprintID: "abc", IssueKey: "42", State: IssueOpen}
	if err := i.Validate(); err != nil {
		t.Fatalf("valid issue rejected: %v", err)
	}
	i.State = "merged"
	if err := i.Validate(); err == nil {
		t.Error("expected error for invalid state")
	}
}
