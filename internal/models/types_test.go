package models

import "testing"

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    RiskLevel
		wantErr bool
	}{
		{"low", RiskLow, false},
		{"medium", RiskMedium, false},
		{"high", RiskHigh, false},
		{"destructive", RiskDestructive, false},
		{"LOW", "", true},
		{"critical", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRiskLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRiskLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRiskLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfirmStatusTerminal(t *testing.T) {
	terminal := map[ConfirmStatus]bool{
		ConfirmPending:  false,
		ConfirmApproved: true,
		ConfirmDenied:   true,
		ConfirmExpired:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestExecStatusTerminal(t *testing.T) {
	terminal := map[ExecStatus]bool{
		ExecPending:    false,
		ExecRunning:    false,
		ExecSucceeded:  true,
		ExecFailed:     true,
		ExecRolledBack: true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "action_id", Message: "not registered"}
	want := "validation failed for action_id: not registered"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
