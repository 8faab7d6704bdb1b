// Package serial formats instruction serial numbers. The two per-LG
// sequence counters backing a serial are allocated by the store under the
// LG row lock; this package only owns the structure of the number.
package serial

import (
	"fmt"

	"github.com/punchamoorthee/lgops/internal/domain"
)

// SubOriginal marks a first-issue instruction; reminders of it carry
// REMINDER_1, REMINDER_2, ...
const SubOriginal = "ORIGINAL"

// Sub returns the sub-instruction code for the nth reminder of an
// original instruction. n=0 is the original itself.
func Sub(n int) string {
	if n <= 0 {
		return SubOriginal
	}
	return fmt.Sprintf("REMINDER_%d", n)
}

// Format concatenates beneficiary entity code, LG category code, the
// LG's zero-padded beneficiary-scoped sequence number, the instruction
// type code, and the sub-instruction code.
//
//	ACME-PG-0007-EXT-ORIGINAL
func Format(beneficiaryCode, categoryCode string, lgSeq int, t domain.InstructionType, sub string) string {
	return fmt.Sprintf("%s-%s-%04d-%s-%s", beneficiaryCode, categoryCode, lgSeq, t, sub)
}
