// internal/tiers/registry_test.go
package tiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/models"
)

func testRegistry() *Registry {
	return NewRegistry([]models.Tier{
		{ID: "gold", Address: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{ID: "free", Address: "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB", GasSponsored: true},
	}, []string{"0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC"})
}

func TestClassify(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name     string
		addr     string
		expected models.LockKind
	}{
		{name: "tier, any casing", addr: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", expected: models.LockKindMembershipTier},
		{name: "event lock", addr: "0xcccccccccccccccccccccccccccccccccccccccc", expected: models.LockKindEvent},
		{name: "unknown", addr: "0xdddddddddddddddddddddddddddddddddddddddd", expected: models.LockKindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, r.Classify(tt.addr))
		})
	}
}

func TestPriority_FollowsConfiguredOrder(t *testing.T) {
	r := testRegistry()

	gold, ok := r.Priority("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.True(t, ok)
	free, ok := r.Priority("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.True(t, ok)
	assert.Less(t, gold, free, "earlier configuration entries rank higher")

	_, ok = r.Priority("0xdddddddddddddddddddddddddddddddddddddddd")
	assert.False(t, ok)
}

func TestFreeTier(t *testing.T) {
	r := testRegistry()
	free := r.FreeTier()
	require.NotNil(t, free)
	assert.Equal(t, "free", free.ID)

	none := NewRegistry([]models.Tier{{ID: "gold", Address: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"}}, nil)
	assert.Nil(t, none.FreeTier())
}
