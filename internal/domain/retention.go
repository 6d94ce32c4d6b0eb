package domain

import "time"

// RetentionPolicy sets how many months a finished job is kept, per data tier
type RetentionPolicy struct {
	CompactMonths int
	FullMonths    int
}

// DefaultRetentionPolicy keeps compact jobs for 6 months and full jobs for 2
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{CompactMonths: 6, FullMonths: 2}
}

// Tiers lists every data tier in a stable order
func Tiers() []DataTier {
	return []DataTier{DataTierCompact, DataTierFull}
}

// Cutoff returns the instant before which a finished job of the given tier is expired
func (p RetentionPolicy) Cutoff(tier DataTier, now time.Time) time.Time {
	months := p.FullMonths
	if tier == DataTierCompact {
		months = p.CompactMonths
	}
	return now.AddDate(0, -months, 0)
}
