package network

import "testing"

func TestAPIErrorIsExplicitRejection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"bad request is explicit", 400, true},
		{"unprocessable is explicit", 422, true},
		{"not found is ambiguous", 404, false},
		{"request timeout is ambiguous", 408, false},
		{"rate limited is ambiguous", 429, false},
		{"server error is ambiguous", 500, false},
		{"gateway timeout is ambiguous", 504, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &APIError{HTTPStatus: tt.status}
			if got := err.IsExplicitRejection(); got != tt.want {
				t.Fatalf("IsExplicitRejection() for %d = %t, want %t", tt.status, got, tt.want)
			}
		})
	}
}

func TestAPIErrorIsAccountUnknown(t *testing.T) {
	if !(&APIError{Code: "account_not_found"}).IsAccountUnknown() {
		t.Fatal("expected account_not_found to classify as unknown account")
	}
	if !(&APIError{Code: "unknown_account"}).IsAccountUnknown() {
		t.Fatal("expected unknown_account to classify as unknown account")
	}
	if (&APIError{Code: "insufficient_funds"}).IsAccountUnknown() {
		t.Fatal("did not expect insufficient_funds to classify as unknown account")
	}
}
