package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// KeyParams is every query parameter that changes a compliance result. The
// derived key must be invariant under reordering of ResourceTypes, Regions,
// and Filters entries.
type KeyParams struct {
	CostRegion    string
	ResourceTypes []string
	Filters       map[string]string
	Severity      string
	Regions       []string
	PolicyVersion string
}

// Key derives the content-addressed cache key:
// compliance:<sha256(canonical JSON)>. Canonical JSON is key-sorted and
// whitespace-free, with list parameters pre-sorted.
func Key(p KeyParams) string {
	types := append([]string(nil), p.ResourceTypes...)
	sort.Strings(types)
	regions := append([]string(nil), p.Regions...)
	sort.Strings(regions)

	// json.Marshal emits map keys in sorted order, which gives us the
	// key-sorted half of canonical JSON for free.
	canonical := struct {
		CostRegion    string            `json:"cost_region"`
		ResourceTypes []string          `json:"resource_types"`
		Filters       map[string]string `json:"filters"`
		Severity      string            `json:"severity"`
		Regions       []string          `json:"regions"`
		PolicyVersion string            `json:"policy_version"`
	}{
		CostRegion:    p.CostRegion,
		ResourceTypes: types,
		Filters:       p.Filters,
		Severity:      p.Severity,
		Regions:       regions,
		PolicyVersion: p.PolicyVersion,
	}

	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return "compliance:" + hex.EncodeToString(sum[:])
}
