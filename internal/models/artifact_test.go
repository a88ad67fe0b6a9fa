package models

import "testing"

func TestAutomationStatus_IsTerminalNegative(t *testing.T) {
	tests := []struct {
		status   AutomationStatus
		expected bool
	}{
		{StatusPending, false},
		{StatusApproved, false},
		{StatusTriggered, false},
		{StatusCompleted, false},
		{StatusRejected, true},
		{StatusFailed, true},
		{StatusDismissed, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminalNegative(); got != tt.expected {
			t.Errorf("%s.IsTerminalNegative() = %v, want %v", tt.status, got, tt.expected)
		}
	}
}

func TestAutomationStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to AutomationStatus
		expected bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusDismissed, true},
		{StatusPending, StatusCompleted, false},
		{StatusApproved, StatusTriggered, true},
		{StatusTriggered, StatusCompleted, true},
		{StatusTriggered, StatusFailed, true},
		{StatusCompleted, StatusPending, false},
		{StatusRejected, StatusApproved, false},
	}

	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.expected {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.expected, got)
		}
	}
}

func TestParseAutomationStatus(t *testing.T) {
	if st, err := ParseAutomationStatus("approved"); err != nil || st != StatusApproved {
		t.Errorf("expected approved, got %q err=%v", st, err)
	}
	if _, err := ParseAutomationStatus("bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestArtifact_ID(t *testing.T) {
	chart := Artifact{Kind: ArtifactChart, Chart: &ChartArtifact{ID: "c-1"}}
	if chart.ID() != "c-1" {
		t.Errorf("expected c-1, got %s", chart.ID())
	}
	auto := Artifact{Kind: ArtifactAutomation, Automation: &AutomationRecord{ID: "a-1"}}
	if auto.ID() != "a-1" {
		t.Errorf("expected a-1, got %s", auto.ID())
	}
	if (Artifact{}).ID() != "" {
		t.Error("expected empty id for empty artifact")
	}
}
