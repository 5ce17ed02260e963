// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promql

import (
	"strings"

	"github.com/go-logr/logr"
)

const cgroupFilterPlaceholder = "{{CGROUP_FILTER}}"

// FilterType selects how ApplyCgroupFilterTemplate interprets the
// selected cgroup list: Selected keeps only those cgroups, Unselected
// excludes them, and None leaves the placeholder substituted with no
// constraint at all.
type FilterType int

const (
	FilterNone FilterType = iota
	FilterSelected
	FilterUnselected
)

// ApplyCgroupFilterTemplate substitutes the {{CGROUP_FILTER}} placeholder,
// written directly after a metric name in a dashboard query template,
// with a braced label matcher set built from the currently selected
// cgroup names (e.g. {name=~"a|b"}), or with nothing when there is no
// constraint, corresponding to the viewer's templated query mechanism. A
// query with no placeholder is returned unchanged.
func ApplyCgroupFilterTemplate(query string, cgroups []string, filterType FilterType, logger logr.Logger) string {
	if !strings.Contains(query, cgroupFilterPlaceholder) {
		return query
	}

	var clause string
	switch filterType {
	case FilterUnselected:
		if len(cgroups) > 0 {
			clause = `{name!~"` + strings.Join(cgroups, "|") + `"}`
		}
	case FilterSelected:
		if len(cgroups) > 0 {
			clause = `{name=~"` + strings.Join(cgroups, "|") + `"}`
		} else {
			// nothing selected: match a cgroup name that cannot occur,
			// so the query returns no series rather than every series.
			clause = `{name="__none__"}`
		}
	case FilterNone:
		clause = ""
	}

	logger.V(2).Info("applying cgroup filter template", "filterType", filterType, "cgroups", len(cgroups))

	return strings.ReplaceAll(query, cgroupFilterPlaceholder, clause)
}
