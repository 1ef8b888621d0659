package progress

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusComplete, true},
		{StatusPending, StatusFailed, true},
		{StatusInProgress, StatusInProgress, true},
		{StatusInProgress, StatusComplete, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, false},
		{StatusComplete, StatusInProgress, false},
		{StatusComplete, StatusFailed, false},
		{StatusComplete, StatusPending, false},
		{StatusFailed, StatusInProgress, true},
		{StatusFailed, StatusComplete, false},
		{StatusFailed, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestCursor(t *testing.T) {
	p := New("CA")
	if got := p.Cursor(); got != (Cursor{SubqueryIndex: 0, Page: 1}) {
		t.Errorf("pending Cursor() = %v, want 0/1", got)
	}

	p.SetCursor(Cursor{SubqueryIndex: 2, Page: 4})
	if p.SubqueryIndex != 2 || p.Page != 3 {
		t.Errorf("SetCursor stored %d/%d, want 2/3 (last completed page)", p.SubqueryIndex, p.Page)
	}
	if got := p.Cursor(); got != (Cursor{SubqueryIndex: 2, Page: 4}) {
		t.Errorf("Cursor() = %v, want 2/4", got)
	}

	p.SetCursor(Cursor{SubqueryIndex: 3, Page: 1})
	if p.Page != 0 {
		t.Errorf("Page = %d, want 0 when no page of the sub-query is done", p.Page)
	}
}

func TestStatus(t *testing.T) {
	if Status("paused").Valid() {
		t.Error("Valid() = true for unknown status")
	}
	if !StatusComplete.Terminal() || !StatusFailed.Terminal() {
		t.Error("complete and failed must be terminal")
	}
	if StatusInProgress.Terminal() || StatusPending.Terminal() {
		t.Error("pending and in_progress must not be terminal")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       PartitionProgress
		wantErr bool
	}{
		{name: "valid", p: PartitionProgress{PartitionID: "CA", Status: StatusInProgress, Page: 2}},
		{name: "unknown status", p: PartitionProgress{PartitionID: "CA", Status: "weird"}, wantErr: true},
		{name: "negative page", p: PartitionProgress{PartitionID: "CA", Status: StatusPending, Page: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&PersistenceError{Backend: BackendFile, Op: "save", RunKey: "cat:adopted", PartitionID: "CA", Err: cause})

	if !errors.Is(err, ErrPersistence) {
		t.Error("errors.Is(err, ErrPersistence) = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	want := "file save progress (run cat:adopted, partition CA): disk full"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
