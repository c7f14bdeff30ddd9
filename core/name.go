/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */
package core

import (
	"strings"

	"github.com/miekg/dns"
)

// canonicalKey returns the canonical DNS ordering key for name: labels
// reversed (root first) and case-folded, joined by a separator that never
// appears in a label's escaped form. This gives a plain string less-than
// comparison the same order as RFC 4034 section 6.1's canonical ordering.
func canonicalKey(name string) string {
	labels := dns.SplitDomainName(name)
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	for i := range labels {
		labels[i] = strings.ToLower(labels[i])
	}
	return strings.Join(labels, "\x00")
}

// labelCount returns the number of labels in name, root included as zero.
func labelCount(name string) int {
	if name == "." {
		return 0
	}
	return dns.CountLabel(name)
}

// isProperSuffix reports whether child is a strict subdomain of parent.
func isProperSuffix(child, parent string) bool {
	return child != parent && dns.IsSubDomain(parent, child)
}

// commonAncestorLabels returns how many trailing labels a and b share,
// compared case-insensitively label by label.
func commonAncestorLabels(a, b string) int {
	la := dns.SplitDomainName(a)
	lb := dns.SplitDomainName(b)
	i, j := len(la)-1, len(lb)-1
	n := 0
	for i >= 0 && j >= 0 && strings.EqualFold(la[i], lb[j]) {
		n++
		i--
		j--
	}
	return n
}

// wildcardOwner returns "*.<parent-of-name>".
func wildcardOwner(name string) string {
	labels := dns.SplitDomainName(name)
	if len(labels) == 0 {
		return "*."
	}
	return "*." + strings.Join(labels[1:], ".") + "."
}
