// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package promql_test

import (
	"testing"

	"github.com/antimetal/rezolus-agent/internal/promql"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestApplyCgroupFilterTemplateNoPlaceholder(t *testing.T) {
	query := `sum(cpu/usage)`
	got := promql.ApplyCgroupFilterTemplate(query, []string{"a", "b"}, promql.FilterSelected, logr.Discard())
	assert.Equal(t, query, got)
}

func TestApplyCgroupFilterTemplateSelected(t *testing.T) {
	query := `sum(cpu/usage{{CGROUP_FILTER}})`
	got := promql.ApplyCgroupFilterTemplate(query, []string{"app.slice", "db.slice"}, promql.FilterSelected, logr.Discard())
	assert.Equal(t, `sum(cpu/usage{name=~"app.slice|db.slice"})`, got)
}

func TestApplyCgroupFilterTemplateUnselected(t *testing.T) {
	query := `sum(cpu/usage{{CGROUP_FILTER}})`
	got := promql.ApplyCgroupFilterTemplate(query, []string{"app.slice"}, promql.FilterUnselected, logr.Discard())
	assert.Equal(t, `sum(cpu/usage{name!~"app.slice"})`, got)
}

func TestApplyCgroupFilterTemplateSelectedWithNoneChosen(t *testing.T) {
	query := `sum(cpu/usage{{CGROUP_FILTER}})`
	got := promql.ApplyCgroupFilterTemplate(query, nil, promql.FilterSelected, logr.Discard())
	assert.Equal(t, `sum(cpu/usage{name="__none__"})`, got)
}
