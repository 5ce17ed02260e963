// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package exposition_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antimetal/rezolus-agent/internal/exposition"
	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerServesMsgpackSnapshot(t *testing.T) {
	reg := metric.NewRegistry()
	require.NoError(t, reg.RegisterCounter(metric.NewCounter("cpu/usage", nil)))

	h := exposition.NewHandler(reg, "rezolus-agent", "test", logr.Discard())

	req := httptest.NewRequest(http.MethodGet, "/metrics/binary", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/msgpack", rr.Header().Get("Content-Type"))

	snap, err := exposition.Decode(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "rezolus-agent", snap.Source)
}

func TestHandlerRejectsNonGet(t *testing.T) {
	reg := metric.NewRegistry()
	h := exposition.NewHandler(reg, "rezolus-agent", "test", logr.Discard())

	req := httptest.NewRequest(http.MethodPost, "/metrics/binary", nil)
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}
