/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"fmt"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bigMsg(t *testing.T, extras, authorities int) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)
	m.Answer = []dns.RR{mustRR(t, "example.com. 300 IN A 192.0.2.1")}
	for i := 0; i < authorities; i++ {
		m.Ns = append(m.Ns, mustRR(t, fmt.Sprintf("example.com. 300 IN NS ns%d.example.com.", i)))
	}
	for i := 0; i < extras; i++ {
		m.Extra = append(m.Extra, mustRR(t, fmt.Sprintf("ns%d.example.com. 300 IN A 192.0.2.%d", i, i+10)))
	}
	return m
}

func TestTruncateFitsWithoutDropping(t *testing.T) {
	m := bigMsg(t, 2, 2)
	wire, err := Truncate(m, 4096)
	require.NoError(t, err)
	assert.False(t, m.Truncated)
	assert.NotEmpty(t, wire)
}

func TestTruncateDropsExtraBeforeAuthority(t *testing.T) {
	m := bigMsg(t, 20, 20)
	small, err := Compress(bigMsg(t, 0, 0))
	require.NoError(t, err)
	// Budget room for the answer plus a little, but not everything.
	budget := len(small) + 40

	_, err = Truncate(m, budget)
	require.NoError(t, err)

	assert.NotEmpty(t, m.Answer, "answer section must never be dropped")
	assert.Empty(t, m.Extra, "additional section must be emptied before authority is trimmed")
}

func TestTruncateSetsTCWhenAnswerAloneExceedsBudget(t *testing.T) {
	m := bigMsg(t, 5, 5)
	_, err := Truncate(m, 1) // impossible budget
	require.NoError(t, err)
	assert.True(t, m.Truncated)
	assert.Empty(t, m.Ns)
	assert.Empty(t, m.Extra)
	assert.NotEmpty(t, m.Answer)
}
