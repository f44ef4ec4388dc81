// Package policy holds the tunable rules the lifecycle engine consults:
// which documents a case needs, how submission retries back off, and when
// inactivity warnings fire. Everything here is pure so transition logic stays
// unit-testable without I/O.
package policy

import (
	"math/rand"
	"strings"
	"time"

	"kyc-engine/internal/kyc/models"
)

// Requirement is a document slot satisfied by any one of its types, e.g. the
// identity slot accepts NATIONAL_ID or PASSPORT.
type Requirement []models.DocumentType

// Label renders the requirement for validation errors, e.g. "NATIONAL_ID|PASSPORT".
func (r Requirement) Label() string {
	parts := make([]string, len(r))
	for i, t := range r {
		parts[i] = string(t)
	}
	return strings.Join(parts, "|")
}

// SatisfiedBy reports whether any usable document fills the slot.
func (r Requirement) SatisfiedBy(docs []models.KycDocument, now time.Time) bool {
	for _, doc := range docs {
		if !doc.Usable(now) {
			continue
		}
		for _, t := range r {
			if doc.Type == t {
				return true
			}
		}
	}
	return false
}

// Documents derives the required-document set from customer type and channel.
// Individuals need an identity document plus proof of address; companies need
// their registration plus a mine license and proof of address. Web and
// WhatsApp intakes additionally require a selfie for liveness.
func Documents(customerType models.CustomerType, channel models.ChannelType) []Requirement {
	var reqs []Requirement
	switch customerType {
	case models.CustomerCompany:
		reqs = append(reqs,
			Requirement{models.DocumentCompanyRegistration},
			Requirement{models.DocumentMineLicense},
			Requirement{models.DocumentProofOfAddress},
		)
	default:
		reqs = append(reqs,
			Requirement{models.DocumentNationalID, models.DocumentPassport},
			Requirement{models.DocumentProofOfAddress},
		)
	}
	if channel == models.ChannelWeb || channel == models.ChannelWhatsApp {
		reqs = append(reqs, Requirement{models.DocumentSelfie})
	}
	return reqs
}

// Missing returns the labels of unsatisfied requirements, in requirement order.
// An empty result means the case is document-complete.
func Missing(customerType models.CustomerType, channel models.ChannelType, docs []models.KycDocument, now time.Time) []string {
	var missing []string
	for _, req := range Documents(customerType, channel) {
		if !req.SatisfiedBy(docs, now) {
			missing = append(missing, req.Label())
		}
	}
	return missing
}

// Backoff computes the delay before retry attempt n (1-based) with exponential
// growth and jitter. The jittered delay never drops below half the base so
// nextRetryAt always lands strictly after lastAttemptAt.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
	Jitter float64 // fraction of the delay, e.g. 0.2 for ±20%

	// rand is swappable for deterministic tests; nil uses the global source.
	Rand *rand.Rand
}

// Delay returns the backoff for the given attempt count (the value after
// incrementing). Attempt 1 waits Base, each further attempt multiplies by
// Factor, capped at Cap, then jittered by ±Jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Cap) {
			d = float64(b.Cap)
			break
		}
	}
	if d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	if b.Jitter > 0 {
		f := b.float64()
		d += d * b.Jitter * (2*f - 1)
	}
	if d < float64(b.Base)/2 {
		d = float64(b.Base) / 2
	}
	return time.Duration(d)
}

func (b Backoff) float64() float64 {
	if b.Rand != nil {
		return b.Rand.Float64()
	}
	return rand.Float64()
}

// Expiry bundles the inactivity thresholds for cases.
type Expiry struct {
	CaseTTL         time.Duration
	ActivityTimeout time.Duration
	IdleTimeout     time.Duration
	TimeoutGrace    time.Duration
	WarningFraction float64
}

/// WarningAt returns the instant a TIMEOUT_WARNING becomes due: the configured
// fraction of the way from start to hard expiry.
func (e Expiry) WarningAt(startedAt, expiresAt time.Time) time.Time {
	window := expiresAt.Sub(startedAt)
	return startedAt.Add(time.Duration(float64(window) * e.WarningFraction))
}

// StaleSince returns the cutoff before which an IN_PROGRESS case with
// outstanding documents is demoted back to AWAITING_DOCUMENTS.
func (e Expiry) StaleSince(now time.Time) time.Time {
	return now.Add(-e.ActivityTimeout)
}

// IdleSince returns the cutoff before which a case with no activity is
// considered idle (soft timeout).
func (e Expiry) IdleSince(now time.Time) time.Time {
	return now.Add(-e.IdleTimeout)
}

// GraceDeadline returns when a TIMEOUT case, timed out at the given instant,
// loses its resume window and must be expired.
func (e Expiry) GraceDeadline(timedOutAt time.Time) time.Time {
	return timedOutAt.Add(e.TimeoutGrace)
}
