/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"
	"strings"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildQueryTestZone(t *testing.T) (*Tree, *Zone) {
	t.Helper()
	body := `
example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 2024010100 3600 600 604800 3600
example.com. 3600 IN NS ns1.example.com.
ns1.example.com. 3600 IN A 192.0.2.1
www.example.com. 3600 IN A 192.0.2.10
alias.example.com. 3600 IN CNAME www.example.com.
*.wild.example.com. 3600 IN A 192.0.2.20
sub.example.com. 3600 IN NS ns1.sub.example.com.
ns1.sub.example.com. 3600 IN A 192.0.2.30
`
	tree := NewTree()
	zone, errs := CompileZoneFile(tree, "example.com.", KindPrimary, strings.NewReader(body))
	require.Empty(t, errs, "%v", errs)
	return tree, zone
}

func query(qname string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(qname, qtype)
	return m
}

func TestResolveExactAnswer(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("www.example.com.", dns.TypeA), false)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "192.0.2.10", resp.Answer[0].(*dns.A).A.String())
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
}

func TestResolveNXDOMAIN(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("nope.example.com.", dns.TypeA), false)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
	assert.NotEmpty(t, resp.Ns, "NXDOMAIN carries SOA in authority")
}

func TestResolveNODATA(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("www.example.com.", dns.TypeMX), false)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
	assert.NotEmpty(t, resp.Ns)
}

func TestResolveCNAMEChase(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("alias.example.com.", dns.TypeA), false)
	require.Len(t, resp.Answer, 2)
	_, isCNAME := resp.Answer[0].(*dns.CNAME)
	assert.True(t, isCNAME)
	_, isA := resp.Answer[1].(*dns.A)
	assert.True(t, isA)
}

func TestResolveWildcard(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("anything.wild.example.com.", dns.TypeA), false)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "anything.wild.example.com.", resp.Answer[0].Header().Name)
	assert.Equal(t, "192.0.2.20", resp.Answer[0].(*dns.A).A.String())
}

func TestResolveDelegation(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("host.sub.example.com.", dns.TypeA), false)
	assert.False(t, resp.Authoritative)
	assert.NotEmpty(t, resp.Ns)
	found := false
	for _, rr := range resp.Ns {
		if ns, ok := rr.(*dns.NS); ok && ns.Header().Name == "sub.example.com." {
			found = true
		}
	}
	assert.True(t, found)
}

func TestResolveRefusedOutsideZone(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	resp := Resolve(tree, zone, query("www.other.org.", dns.TypeA), false)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

// buildLongCNAMEChainZone builds c0 -> c1 -> ... -> c11, with an A record
// only at the very end, eleven CNAME hops deep: one more than fillCNAMEChase's
// maxCNAMEChain bound should ever follow.
func buildLongCNAMEChainZone(t *testing.T) (*Tree, *Zone) {
	t.Helper()
	var body strings.Builder
	body.WriteString("example.com. 3600 IN SOA ns1.example.com. hostmaster.example.com. 1 2 3 4 5\n")
	body.WriteString("example.com. 3600 IN NS ns1.example.com.\n")
	body.WriteString("ns1.example.com. 3600 IN A 192.0.2.1\n")
	for i := 0; i < 11; i++ {
		fmt.Fprintf(&body, "c%d.example.com. 3600 IN CNAME c%d.example.com.\n", i, i+1)
	}
	body.WriteString("c11.example.com. 3600 IN A 192.0.2.99\n")

	tree := NewTree()
	zone, errs := CompileZoneFile(tree, "example.com.", KindPrimary, strings.NewReader(body.String()))
	require.Empty(t, errs, "%v", errs)
	return tree, zone
}

func TestResolveCNAMEChaseStopsAtBound(t *testing.T) {
	tree, zone := buildLongCNAMEChainZone(t)
	resp := Resolve(tree, zone, query("c0.example.com.", dns.TypeA), false)

	require.Len(t, resp.Answer, maxCNAMEChain, "chain must stop after maxCNAMEChain hops")
	for _, rr := range resp.Answer {
		_, isCNAME := rr.(*dns.CNAME)
		assert.True(t, isCNAME, "no A record should be reached past the chain bound")
	}
}

func TestResolveDelegationIncludesDSParentCoverWhenSigned(t *testing.T) {
	tree, zone := buildQueryTestZone(t)
	params := NSEC3Params{Algorithm: 1, Iterations: 0, Salt: nil}
	require.NoError(t, PrecomputeNSEC3(tree, zone, params))

	resp := Resolve(tree, zone, query("host.sub.example.com.", dns.TypeA), true)
	assert.False(t, resp.Authoritative)

	var sawNSEC3 bool
	for _, rr := range resp.Ns {
		if rr.Header().Rrtype == dns.TypeNSEC3 {
			sawNSEC3 = true
			nsec3 := rr.(*dns.NSEC3)
			for _, bit := range nsec3.TypeBitMap {
				assert.NotEqual(t, dns.TypeDS, bit, "delegation has no DS, so DS must not be in its NSEC3 bitmap")
			}
		}
	}
	assert.True(t, sawNSEC3, "signed delegation response must carry its DS-denial NSEC3 record")
}
