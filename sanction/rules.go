package sanction

// =============================================================================
// FINES - Policy constants, not configuration
// =============================================================================

var (
	AbsentFine     = MustAmount("25.00")
	IncompleteFine = MustAmount("12.50")
)

// Outcome is the classification of one member for one event.
type Outcome struct {
	Compliant bool
	Reason    Reason
	Amount    Amount
}

// Classify maps an attendance record (nil when none exists) to exactly one
// outcome. First match wins:
//
//	no record            -> Absent      25.00
//	no in,  out          -> No time in  12.50
//	in,     no out       -> No time out 12.50
//	no in,  no out       -> Absent      25.00
//	in,     out          -> compliant
func Classify(rec *AttendanceRecord) Outcome {
	if rec == nil {
		return Outcome{Reason: ReasonAbsent, Amount: AbsentFine}
	}

	hasIn, hasOut := rec.TimeIn != nil, rec.TimeOut != nil
	switch {
	case !hasIn && hasOut:
		return Outcome{Reason: ReasonNoTimeIn, Amount: IncompleteFine}
	case hasIn && !hasOut:
		return Outcome{Reason: ReasonNoTimeOut, Amount: IncompleteFine}
	case !hasIn && !hasOut:
		return Outcome{Reason: ReasonAbsent, Amount: AbsentFine}
	default:
		return Outcome{Compliant: true}
	}
}
