package observability

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// PushJob is the Pushgateway job name batch runs push under.
const PushJob = "mvr_etl_pipeline"

// Push sends every metric gathered by g (the default registry when nil) to
// the Pushgateway at url, replacing the group identified by job and grouping.
func Push(ctx context.Context, url, job string, grouping map[string]string, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	p := push.New(url, job).Gatherer(g)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
