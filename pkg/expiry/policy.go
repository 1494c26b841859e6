// Package expiry implements the tiered size/age expiration policy used by
// the compaction planner to decide whether a live record is stale enough
// to drop.
package expiry

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const secondsPerDay = 86400

// Tier is one (size, days) rule: a record whose value size is >= Size and
// whose timestamp is at least Days days old is expired under this tier.
type Tier struct {
	Size int64 // bytes
	Days int64
}

// Policy is a sorted, size-descending list of [Tier]. The first tier (by
// descending size) whose Size the record's value size satisfies is
// authoritative: smaller tiers further down the list are
// never consulted once a larger tier matches.
type Policy struct {
	tiers []Tier
}

// NewPolicy builds a Policy from tiers, sorting them size-descending. An
// empty tier list is a valid, always-false policy (nothing ever expires).
func NewPolicy(tiers []Tier) Policy {
	sorted := append([]Tier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })

	return Policy{tiers: sorted}
}

// Legacy builds the single-tier shorthand form: sizeLimit bytes and
// expireDays days, equivalent to NewPolicy([]Tier{{sizeLimit, expireDays}}).
func Legacy(sizeLimit, expireDays int64) Policy {
	return NewPolicy([]Tier{{Size: sizeLimit, Days: expireDays}})
}

// IsExpired reports whether a record with the given value size and
// timestamp (Unix seconds) is expired under p. now is the reference time
// (Unix seconds), normally time.Now().Unix().
func (p Policy) IsExpired(valueSize int64, tstamp, now int64) bool {
	for _, t := range p.tiers {
		if valueSize >= t.Size {
			return tstamp <= now-t.Days*secondsPerDay
		}
	}

	return false
}

// Tiers returns the sorted tier list. The returned slice must not be
// mutated.
func (p Policy) Tiers() []Tier { return p.tiers }

// ParseSize parses a byte-count string with an optional K or M suffix
// (case-insensitive), e.g. "512K", "4M", "1024". Suffixes are binary
// (1K = 1024 bytes), matching the compactor's -s flag.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("expiry: empty size")
	}

	mult := int64(1)

	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		mult = 1024
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("expiry: invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("expiry: negative size %q", s)
	}

	return n * mult, nil
}

// ParseTierSpec parses one "size:days" tier specification, e.g. "512K:7".
func ParseTierSpec(spec string) (Tier, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return Tier{}, fmt.Errorf("expiry: tier spec %q must be size:days", spec)
	}

	size, err := ParseSize(parts[0])
	if err != nil {
		return Tier{}, err
	}

	days, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return Tier{}, fmt.Errorf("expiry: invalid days in tier spec %q: %w", spec, err)
	}

	if days < 0 {
		return Tier{}, fmt.Errorf("expiry: negative days in tier spec %q", spec)
	}

	return Tier{Size: size, Days: days}, nil
}

// ParseTiers parses a comma-separated list of "size:days" specs, e.g.
// "1M:30,512K:7,0:1" (the compactor's -r flag, or its config file's
// expire_tiers field).
func ParseTiers(spec string) ([]Tier, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	parts := strings.Split(spec, ",")
	tiers := make([]Tier, 0, len(parts))

	for _, p := range parts {
		t, err := ParseTierSpec(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}

		tiers = append(tiers, t)
	}

	return tiers, nil
}
