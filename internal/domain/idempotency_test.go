package domain

import "testing"

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "unknown value", status: IdempotencyStatus("broken"), want: false},
		{name: "empty value", status: IdempotencyStatus(""), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordZeroValue(t *testing.T) {
	var record IdempotencyRecord

	if record.Status.Valid() {
		t.Fatal("zero value record must not carry a valid status")
	}
	if len(record.Result) != 0 {
		t.Fatal("zero value record must not carry a result snapshot")
	}
}
