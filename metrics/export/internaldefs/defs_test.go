package internaldefs

import (
	"strings"
	"testing"

	"github.com/sportsai/authcore"
)

func TestEveryCounterHasOneDefinition(t *testing.T) {
	seen := map[authcore.MetricID]string{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if prev, ok := seen[def.ID]; ok {
			t.Fatalf("metric %d defined twice (%s, %s)", def.ID, prev, def.Name)
		}
		if names[def.Name] {
			t.Fatalf("duplicate name %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %s", def.Name)
		}
		seen[def.ID] = def.Name
		names[def.Name] = true
	}
	if len(CounterDefs)+len(HistogramDefs) != authcore.MetricCount {
		t.Fatalf("expected %d definitions, have %d", authcore.MetricCount, len(CounterDefs)+len(HistogramDefs))
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 0, 2}))
	want := [8]uint64{1, 1, 3, 3, 3, 3, 3, 3}
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
