package cloud

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/tagwarden/tagwarden/pkg/cache"
)

const regionCacheKey = "regions:enabled"

// DefaultRegionCacheTTL bounds how long the enabled-region list is reused.
const DefaultRegionCacheTTL = time.Hour

// RegionDiscovery is the outcome of enumerating enabled regions. Discovery
// never fails the caller: on error it degrades to the default region and
// marks the result so downstream metadata can carry the flag.
type RegionDiscovery struct {
	Regions         []string `json:"regions"`
	DiscoveryFailed bool     `json:"discovery_failed,omitempty"`
	DiscoveryError  string   `json:"discovery_error,omitempty"`
}

// RegionDiscoverer enumerates enabled regions with a TTL cache in the shared
// cache backend.
type RegionDiscoverer struct {
	factory       *Factory
	cache         *cache.Cache
	defaultRegion string
	ttl           time.Duration
	logger        *slog.Logger

	// sanitize scrubs the raw error before it rides along in result
	// metadata. Injected so the guard package owns the redaction rules.
	sanitize func(error) string
}

// NewRegionDiscoverer wires the discoverer. sanitize may be nil, in which
// case a fixed placeholder message is used.
func NewRegionDiscoverer(factory *Factory, c *cache.Cache, defaultRegion string, ttl time.Duration, sanitize func(error) string, logger *slog.Logger) *RegionDiscoverer {
	if ttl <= 0 {
		ttl = DefaultRegionCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sanitize == nil {
		sanitize = func(error) string { return "region discovery unavailable" }
	}
	return &RegionDiscoverer{
		factory:       factory,
		cache:         c,
		defaultRegion: defaultRegion,
		ttl:           ttl,
		logger:        logger,
		sanitize:      sanitize,
	}
}

// DiscoverEnabledRegions returns the enabled-region universe, sorted. The
// result is cached under TTL; on any failure the default region is returned
// with the failure recorded in the result, never as an error.
func (d *RegionDiscoverer) DiscoverEnabledRegions(ctx context.Context) RegionDiscovery {
	var cached RegionDiscovery
	if d.cache.Get(ctx, regionCacheKey, &cached) && len(cached.Regions) > 0 {
		return cached
	}

	regions, err := d.describeRegions(ctx)
	if err != nil {
		d.logger.Warn("region discovery failed, falling back to default region",
			"default_region", d.defaultRegion, "error", err)
		return RegionDiscovery{
			Regions:         []string{d.defaultRegion},
			DiscoveryFailed: true,
			DiscoveryError:  d.sanitize(err),
		}
	}

	sort.Strings(regions)
	result := RegionDiscovery{Regions: regions}
	d.cache.Set(ctx, regionCacheKey, result, d.ttl)
	return result
}

func (d *RegionDiscoverer) describeRegions(ctx context.Context) ([]string, error) {
	client, err := d.factory.ForRegion(ctx, d.defaultRegion)
	if err != nil {
		return nil, err
	}

	var regions []string
	err = client.withRetry(ctx, "ec2", "DescribeRegions", func(ctx context.Context) error {
		resp, err := client.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
			AllRegions: aws.Bool(false), // enabled regions only
		})
		if err != nil {
			return err
		}
		regions = regions[:0]
		for _, r := range resp.Regions {
			regions = append(regions, aws.ToString(r.RegionName))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return regions, nil
}

// FilterRegions applies the region hierarchy in order: the discovered
// universe, then the operator allow-list, then the per-query filter. Empty
// lists mean "no restriction".
func FilterRegions(universe, allowed, requested []string) (selected, skipped []string) {
	keep := func(set []string) map[string]bool {
		if len(set) == 0 {
			return nil
		}
		m := make(map[string]bool, len(set))
		for _, r := range set {
			m[r] = true
		}
		return m
	}

	allowSet := keep(allowed)
	reqSet := keep(requested)

	for _, r := range universe {
		if allowSet != nil && !allowSet[r] {
			skipped = append(skipped, r)
			continue
		}
		if reqSet != nil && !reqSet[r] {
			skipped = append(skipped, r)
			continue
		}
		selected = append(selected, r)
	}
	sort.Strings(selected)
	sort.Strings(skipped)
	return selected, skipped
}
