package models

// Tier name constants for the built-in quota table.
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
	TierNone       = "none"
)

// TierQuota maps an account tier to its per-window request limits. A limit of
// zero means the tier has no access for that window at all; a tier with all
// limits zero represents "no API access".
type TierQuota struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerDay    int `yaml:"requests_per_day" json:"requests_per_day"`
	RequestsPerMonth  int `yaml:"requests_per_month" json:"requests_per_month"`
}

// AllZero reports whether every limit is zero, i.e. the tier grants no API
// access whatsoever.
func (q TierQuota) AllZero() bool {
	return q.RequestsPerMinute == 0 && q.RequestsPerDay == 0 && q.RequestsPerMonth == 0
}

// QuotaTable maps tier names to their quotas.
type QuotaTable map[string]TierQuota

// Lookup returns the quota for a tier name. Unknown tiers resolve to a
// zero-value quota, which admits nothing.
func (t QuotaTable) Lookup(tier string) TierQuota {
	return t[tier]
}

// DefaultQuotaTable returns the built-in tier quota table. Deployments
// normally override this from configuration.
func DefaultQuotaTable() QuotaTable {
	return QuotaTable{
		TierFree:       {RequestsPerMinute: 10, RequestsPerDay: 500, RequestsPerMonth: 5000},
		TierPro:        {RequestsPerMinute: 60, RequestsPerDay: 10000, RequestsPerMonth: 100000},
		TierEnterprise: {RequestsPerMinute: 600, RequestsPerDay: 100000, RequestsPerMonth: 1000000},
		TierNone:       {},
	}
}
