/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTsigKey() TsigKey {
	return TsigKey{Name: "transfer-key.", Algorithm: dns.HmacSHA256, Secret: "c2VjcmV0a2V5c2VjcmV0a2V5c2VjcmV0a2V5"}
}

func TestTsigStreamSignThenVerifyRoundTrips(t *testing.T) {
	key := testTsigKey()
	signer := NewTsigStream(key)

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeAXFR)
	wire, err := signer.Sign(m)
	require.NoError(t, err)
	require.NotEmpty(t, wire)

	verifier := NewTsigStream(key)
	require.NoError(t, verifier.VerifyEnvelope(wire))
	require.NoError(t, verifier.Finish())
}

func TestTsigStreamVerifyEnvelopeRejectsWrongSecret(t *testing.T) {
	key := testTsigKey()
	signer := NewTsigStream(key)

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeAXFR)
	wire, err := signer.Sign(m)
	require.NoError(t, err)

	wrong := testTsigKey()
	wrong.Secret = "ZGlmZmVyZW50a2V5ZGlmZmVyZW50a2V5ZGlmZg=="
	verifier := NewTsigStream(wrong)
	assert.Error(t, verifier.VerifyEnvelope(wire))
}

func TestTsigStreamFinishRequiresFirstAndLastSigned(t *testing.T) {
	s := NewTsigStream(testTsigKey())
	assert.Error(t, s.Finish(), "Finish on an empty stream must fail")

	unsigned := new(dns.Msg)
	unsigned.SetQuestion("example.com.", dns.TypeAXFR)
	wire, err := unsigned.Pack()
	require.NoError(t, err)

	s2 := NewTsigStream(testTsigKey())
	require.NoError(t, s2.VerifyEnvelope(wire))
	assert.Error(t, s2.Finish(), "a stream whose only envelope was unsigned must not finish cleanly")
}

func TestTsigStreamRejectsTooManyConsecutiveUnsignedEnvelopes(t *testing.T) {
	key := testTsigKey()
	signer := NewTsigStream(key)
	verifier := NewTsigStream(key)

	first := new(dns.Msg)
	first.SetQuestion("example.com.", dns.TypeAXFR)
	wire, err := signer.Sign(first)
	require.NoError(t, err)
	require.NoError(t, verifier.VerifyEnvelope(wire))

	unsigned := new(dns.Msg)
	unsigned.SetQuestion("example.com.", dns.TypeAXFR)
	uwire, err := unsigned.Pack()
	require.NoError(t, err)

	var lastErr error
	for i := 0; i <= maxUnsignedEnvelopes; i++ {
		lastErr = verifier.VerifyEnvelope(uwire)
	}
	assert.Error(t, lastErr, "an unsigned run past the limit must fail")
}

func TestTsigKeyringResolvesByName(t *testing.T) {
	kr := NewTsigKeyring([]TsigKey{testTsigKey()})
	secrets := kr.Secrets()
	require.Contains(t, secrets, "transfer-key.")
	assert.Equal(t, testTsigKey().Secret, secrets["transfer-key."])
}
