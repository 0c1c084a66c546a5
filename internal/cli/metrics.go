package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// CounterSample is one counter series gathered after a run.
type CounterSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`

	labelPairs string // labels in registry order
}

// String renders the sample in exposition style: name{k="v",...} value.
func (s CounterSample) String() string {
	return fmt.Sprintf("%s%s %g", s.Name, s.labelText(), s.Value)
}

func (s CounterSample) labelText() string {
	if len(s.Labels) == 0 {
		return ""
	}
	return "{" + s.labelPairs + "}"
}

// gatherCounters collects every counter series in g. Families and series come
// back in the registry's order, sorted by name and labels.
func gatherCounters(g prometheus.Gatherer) ([]CounterSample, error) {
	families, err := g.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}
	var out []CounterSample
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			c := m.GetCounter()
			if c == nil {
				continue
			}
			s := CounterSample{Name: mf.GetName(), Value: c.GetValue()}
			var pairs []string
			for _, lp := range m.GetLabel() {
				if s.Labels == nil {
					s.Labels = make(map[string]string)
				}
				s.Labels[lp.GetName()] = lp.GetValue()
				pairs = append(pairs, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			s.labelPairs = strings.Join(pairs, ",")
			out = append(out, s)
		}
	}
	return out, nil
}

func writeCounters(w io.Writer, samples []CounterSample) {
	fmt.Fprintln(w, "metrics")
	for _, s := range samples {
		fmt.Fprintf(w, "  %s\n", s)
	}
}
