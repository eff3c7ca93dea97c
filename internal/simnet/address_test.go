package simnet

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_AddressBookAllocatesFromPoolSkippingNetworkAndBroadcast(t *testing.T) {
	ab, err := NewAddressBook(netip.MustParsePrefix("10.0.0.0/30"))
	require.NoError(t, err)

	a1, err := ab.Allocate("host1")
	require.NoError(t, err)
	a2, err := ab.Allocate("host2")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", a1.String())
	assert.Equal(t, "10.0.0.2", a2.String())

	_, err = ab.Allocate("host3")
	assert.Error(t, err, "a /30 pool only has two usable host addresses")
}

func Test_AddressBookAllocateIsIdempotentPerName(t *testing.T) {
	ab, err := NewAddressBook(netip.MustParsePrefix("10.0.0.0/29"))
	require.NoError(t, err)

	a1, err := ab.Allocate("host1")
	require.NoError(t, err)
	a2, err := ab.Allocate("host1")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
}

func Test_ResolverHostsFileContainsAllocatedNames(t *testing.T) {
	ab, err := NewAddressBook(netip.MustParsePrefix("10.0.0.0/29"))
	require.NoError(t, err)
	_, err = ab.Allocate("server")
	require.NoError(t, err)

	r := NewResolver(ab)
	hosts := r.HostsFile()

	assert.True(t, strings.Contains(hosts, "127.0.0.1 localhost"))
	assert.True(t, strings.Contains(hosts, "server"))
}
