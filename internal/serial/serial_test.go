package serial

import (
	"testing"

	"github.com/punchamoorthee/lgops/internal/domain"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name string
		bene string
		cat  string
		seq  int
		typ  domain.InstructionType
		sub  string
		want string
	}{
		{"original extend", "ACME", "PG", 7, domain.InstrExtend, SubOriginal, "ACME-PG-0007-EXT-ORIGINAL"},
		{"zero padding", "BEN01", "CAT1", 1, domain.InstrRelease, SubOriginal, "BEN01-CAT1-0001-REL-ORIGINAL"},
		{"wide sequence", "BEN01", "CAT1", 12345, domain.InstrLiquidate, SubOriginal, "BEN01-CAT1-12345-LIQ-ORIGINAL"},
		{"reminder sub code", "ACME", "PG", 7, domain.InstrReminder, Sub(2), "ACME-PG-0007-REM-REMINDER_2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(tt.bene, tt.cat, tt.seq, tt.typ, tt.sub)
			if got != tt.want {
				t.Errorf("Format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSub(t *testing.T) {
	if Sub(0) != SubOriginal {
		t.Errorf("Sub(0) = %q, want %q", Sub(0), SubOriginal)
	}
	if Sub(-1) != SubOriginal {
		t.Errorf("Sub(-1) = %q, want %q", Sub(-1), SubOriginal)
	}
	if Sub(1) != "REMINDER_1" {
		t.Errorf("Sub(1) = %q", Sub(1))
	}
	if Sub(3) != "REMINDER_3" {
		t.Errorf("Sub(3) = %q", Sub(3))
	}
}
