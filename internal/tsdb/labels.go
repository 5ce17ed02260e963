// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package tsdb

import (
	"sort"
	"strings"
)

// splitLabeledName parses the exposition wire format's "name{k=v,...}"
// convention into a bare metric name and its label set.
func splitLabeledName(s string) (string, Labels) {
	open := strings.IndexByte(s, '{')
	if open < 0 || !strings.HasSuffix(s, "}") {
		return s, nil
	}

	name := s[:open]
	body := s[open+1 : len(s)-1]
	if body == "" {
		return name, Labels{}
	}

	labels := Labels{}
	for _, pair := range strings.Split(body, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		labels[kv[0]] = kv[1]
	}
	return name, labels
}

// canonicalLabelString renders a label set deterministically so it can be
// used as a map key.
func canonicalLabelString(labels Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}
