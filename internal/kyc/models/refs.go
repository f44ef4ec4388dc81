package models

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

// Case refs follow the operation's FGR numbering: FGR + yyyymmdd + 3-digit
// suffix, e.g. FGR20260115-042.
var caseRefPattern = regexp.MustCompile(`^FGR[0-9]{8}-[0-9]{3}$`)

// ValidCaseRef reports whether ref matches the FGR########-### format.
func ValidCaseRef(ref string) bool {
	return caseRefPattern.MatchString(ref)
}

// NewCaseRef generates a case ref for the given day. The suffix is random;
// uniqueness is enforced by the store on create.
func NewCaseRef(now time.Time) string {
	return fmt.Sprintf("FGR%s-%03d", now.Format("20060102"), rand.Intn(1000))
}
