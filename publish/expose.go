package publish

import (
	"io"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// WritePerfExposition renders every metric gathered from reg as Prometheus
// text exposition format. No command of this module calls it; the server
// binary serves its metrics over HTTP instead.
func WritePerfExposition(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrap(err, "encoding metric family")
		}
	}
	return nil
}
