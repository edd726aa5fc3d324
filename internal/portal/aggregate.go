// internal/portal/aggregate.go
package portal

import (
	"sort"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
)

// Aggregate merges batches in order, keeps the first record for each claim
// period and sorts newest first. Records without a claim period are dropped.
// Aggregate(Aggregate(x)) equals Aggregate(x).
func Aggregate(batches ...[]schemas.BillingRecord) []schemas.BillingRecord {
	seen := make(map[schemas.Date]struct{})
	var out []schemas.BillingRecord
	for _, batch := range batches {
		for _, rec := range batch {
			key, ok := rec.ClaimKey()
			if !ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := out[i].ClaimKey()
		b, _ := out[j].ClaimKey()
		return b.Before(a)
	})
	if out == nil {
		out = []schemas.BillingRecord{}
	}
	return out
}
