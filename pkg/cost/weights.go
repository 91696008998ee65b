package cost

import "strings"

// defaultSizeWeights maps the size suffix of an instance type to a relative
// cost weight. The scale is anchored at small = 1 and tracks the vendor's
// doubling ladder. Overridable through Options.SizeWeights.
var defaultSizeWeights = map[string]float64{
	"nano":     0.25,
	"micro":    0.5,
	"small":    1,
	"medium":   2,
	"large":    4,
	"xlarge":   8,
	"2xlarge":  16,
	"3xlarge":  24,
	"4xlarge":  32,
	"6xlarge":  48,
	"8xlarge":  64,
	"9xlarge":  72,
	"10xlarge": 80,
	"12xlarge": 96,
	"16xlarge": 128,
	"18xlarge": 144,
	"24xlarge": 192,
	"32xlarge": 256,
	"metal":    128,
}

// defaultWeight is used when the instance size is unknown or unparseable, so
// an unrecognised fleet still distributes evenly rather than dropping out.
const defaultWeight = 4

// sizeWeight resolves "t3.large" style instance types to a weight.
func (s *Service) sizeWeight(instanceType string) float64 {
	if instanceType == "" {
		return defaultWeight
	}
	size := instanceType
	if i := strings.LastIndex(instanceType, "."); i >= 0 {
		size = instanceType[i+1:]
	}
	if w, ok := s.weights[size]; ok {
		return w
	}
	return defaultWeight
}
