package expiry_test

import (
	"testing"

	"github.com/beansdb/beansdb/pkg/expiry"
	"github.com/stretchr/testify/require"
)

const day = int64(86400)

func TestPolicy_IsExpired_SingleTier(t *testing.T) {
	t.Parallel()

	p := expiry.Legacy(100, 7) // values >= 100 bytes expire after 7 days

	now := int64(1000 * day)

	require.False(t, p.IsExpired(50, now-30*day, now), "below size threshold, never expires")
	require.False(t, p.IsExpired(200, now-1*day, now), "too recent")
	require.True(t, p.IsExpired(200, now-8*day, now))
	require.True(t, p.IsExpired(200, now-7*day, now), "boundary: exactly 7 days old is expired")
}

func TestPolicy_IsExpired_FirstMatchingTierBySizeWins(t *testing.T) {
	t.Parallel()

	// Larger values expire sooner (7 days); smaller values get a longer
	// grace period (30 days). Tiers given out of order on purpose.
	p := expiry.NewPolicy([]expiry.Tier{
		{Size: 0, Days: 30},
		{Size: 1024 * 1024, Days: 7},
	})

	now := int64(1000 * day)

	// An 8-day-old 2MB value is not old enough for the small-value tier
	// (30d), but the 1MB tier matches first since it's larger and still
	// satisfied, and its 7-day threshold expires the value.
	require.True(t, p.IsExpired(2*1024*1024, now-8*day, now))
	require.False(t, p.IsExpired(2*1024*1024, now-6*day, now))

	// A small value only ever matches the 0-byte tier.
	require.False(t, p.IsExpired(10, now-10*day, now))
	require.True(t, p.IsExpired(10, now-31*day, now))
}

func TestPolicy_Tiers_SortedSizeDescending(t *testing.T) {
	t.Parallel()

	p := expiry.NewPolicy([]expiry.Tier{
		{Size: 10, Days: 1},
		{Size: 1000, Days: 2},
		{Size: 100, Days: 3},
	})

	tiers := p.Tiers()
	require.Len(t, tiers, 3)
	require.Equal(t, int64(1000), tiers[0].Size)
	require.Equal(t, int64(100), tiers[1].Size)
	require.Equal(t, int64(10), tiers[2].Size)
}

func TestPolicy_EmptyPolicy_NeverExpires(t *testing.T) {
	t.Parallel()

	p := expiry.NewPolicy(nil)
	require.False(t, p.IsExpired(1000, 0, 1000*day))
}

func TestParseSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"1K", 1024},
		{"1k", 1024},
		{"4M", 4 * 1024 * 1024},
		{"0", 0},
	}

	for _, c := range cases {
		got, err := expiry.ParseSize(c.in)
		require.NoError(t, err, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

func TestParseSize_Invalid(t *testing.T) {
	t.Parallel()

	_, err := expiry.ParseSize("")
	require.Error(t, err)

	_, err = expiry.ParseSize("abc")
	require.Error(t, err)

	_, err = expiry.ParseSize("-5")
	require.Error(t, err)
}

func TestParseTiers(t *testing.T) {
	t.Parallel()

	tiers, err := expiry.ParseTiers("1M:30,512K:7,0:1")
	require.NoError(t, err)
	require.Len(t, tiers, 3)
	require.Equal(t, expiry.Tier{Size: 1024 * 1024, Days: 30}, tiers[0])
	require.Equal(t, expiry.Tier{Size: 512 * 1024, Days: 7}, tiers[1])
	require.Equal(t, expiry.Tier{Size: 0, Days: 1}, tiers[2])
}

func TestParseTiers_Empty(t *testing.T) {
	t.Parallel()

	tiers, err := expiry.ParseTiers("")
	require.NoError(t, err)
	require.Nil(t, tiers)
}

func TestParseTiers_Malformed(t *testing.T) {
	t.Parallel()

	_, err := expiry.ParseTiers("not-a-tier")
	require.Error(t, err)

	_, err = expiry.ParseTiers("1M:abc")
	require.Error(t, err)
}
