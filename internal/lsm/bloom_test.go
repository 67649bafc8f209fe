package lsm

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestBloomFilterFalsePositiveRate checks the sizing formula in
// NewBloomFilter: a filter built for p=0.01 should reject at least 98%
// of keys it never saw, across a range of set sizes.
func TestBloomFilterFalsePositiveRate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("false positive rate stays under 2% at p=0.01", prop.ForAll(
		func(memberCount int) bool {
			bf := NewBloomFilter(memberCount, 0.01)

			members := make(map[string]bool, memberCount)
			for i := 0; i < memberCount; i++ {
				key := fmt.Sprintf("member-%d", i)
				members[key] = true
				bf.Add([]byte(key))
			}

			const probes = 10000
			falsePositives := 0
			for i := 0; i < probes; i++ {
				key := fmt.Sprintf("absent-%d", i)
				if members[key] {
					continue // would be a true positive, not a probe of the negative space
				}
				if bf.MightContain([]byte(key)) {
					falsePositives++
				}
			}

			rate := float64(falsePositives) / float64(probes)
			if rate >= 0.02 {
				t.Logf("memberCount=%d false positive rate=%.4f exceeds 2%%", memberCount, rate)
				return false
			}
			return true
		},
		gen.IntRange(100, 5000),
	))

	properties.TestingRun(t)
}
