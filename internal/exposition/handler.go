// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package exposition

import (
	"net/http"
	"time"

	"github.com/antimetal/rezolus-agent/internal/metric"
	"github.com/go-logr/logr"
)

const contentTypeMsgpack = "application/msgpack"

// Handler serves GET /metrics/binary, producing one fresh Snapshot per
// request from the shared registry.
type Handler struct {
	reg     *metric.Registry
	source  string
	version string
	now     func() time.Time
	logger  logr.Logger
}

// NewHandler builds the /metrics/binary handler over reg.
func NewHandler(reg *metric.Registry, source, version string, logger logr.Logger) *Handler {
	return &Handler{
		reg:     reg,
		source:  source,
		version: version,
		now:     time.Now,
		logger:  logger.WithName("exposition"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := BuildSnapshot(h.reg, h.source, h.version, h.now())

	body, err := snap.Encode()
	if err != nil {
		h.logger.Error(err, "failed to encode snapshot")
		http.Error(w, "internal error encoding snapshot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
