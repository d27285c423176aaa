package securenote

import "sync/atomic"

// MetricID indexes one engine counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins (direct or post-factor).
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential rejections.
	MetricLoginFailure
	// MetricSecondFactorRequired counts logins parked on a pending token.
	MetricSecondFactorRequired
	// MetricSecondFactorSuccess counts confirmed second factors.
	MetricSecondFactorSuccess
	// MetricSecondFactorFailure counts burned pending tokens and bad codes.
	MetricSecondFactorFailure
	// MetricSecondFactorReplay counts replayed TOTP steps.
	MetricSecondFactorReplay
	// MetricSessionIssued counts minted session tokens.
	MetricSessionIssued
	// MetricSessionRejected counts failed session validations.
	MetricSessionRejected
	// MetricRegistration counts created identities.
	MetricRegistration
	// MetricVerificationRequested counts new verification requests.
	MetricVerificationRequested
	// MetricVerificationDecided counts admin decisions (either verdict).
	MetricVerificationDecided
	// MetricVerificationConfirmed counts consumed confirmation tokens.
	MetricVerificationConfirmed
	// MetricDocumentEncrypted counts document create operations.
	MetricDocumentEncrypted
	// MetricDocumentDecrypted counts successful authorized reads.
	MetricDocumentDecrypted
	// MetricDocumentRotated counts content rotations (edits).
	MetricDocumentRotated
	// MetricDocumentShared counts new share grants.
	MetricDocumentShared
	// MetricShareRevoked counts revoked grants.
	MetricShareRevoked
	// MetricAccessDenied counts authorization rejections.
	MetricAccessDenied
	// MetricCryptoFailure counts unrecoverable envelope failures.
	MetricCryptoFailure

	metricIDCount
)

// paddedCounter keeps each counter on its own cache line so hot counters do
// not false-share under parallel load.
type paddedCounter struct {
	value uint64
	_     [56]byte
}

// Metrics is a fixed-size atomic counter registry. A nil or disabled
// Metrics accepts Inc calls and reports empty snapshots.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// NewMetrics creates a registry; when enabled is false all operations are
// no-ops.
func NewMetrics(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Enabled reports whether the registry records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the given counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// Snapshot copies all counters. Safe to call concurrently with Inc.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
