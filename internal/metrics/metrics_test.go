package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegistered(t *testing.T) {
	t.Parallel()

	NotificationDeliveriesTotal.WithLabelValues("email", "success").Inc()
	AlertsTriggeredTotal.WithLabelValues("inventory", "high").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := map[string]bool{}
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), "stockwatch_") {
			found[family.GetName()] = true
		}
	}
	for _, name := range []string{
		"stockwatch_notification_deliveries_total",
		"stockwatch_alerts_triggered_total",
	} {
		if !found[name] {
			t.Fatalf("expected metric family %q to be registered", name)
		}
	}
}
