package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixed(name string, r Result) Checker {
	return NewCheckerFunc(name, func(context.Context) Result { return r })
}

func TestAggregator_Register(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	if err := agg.Register(fixed("store", Healthy(""))); err != nil {
		t.Fatal(err)
	}
	if err := agg.Register(fixed("store", Healthy(""))); !errors.Is(err, ErrDuplicateChecker) {
		t.Errorf("duplicate Register() error = %v", err)
	}
	_ = agg.Register(fixed("scheduler", Healthy("")))
	if names := agg.Names(); len(names) != 2 || names[0] != "store" || names[1] != "scheduler" {
		t.Errorf("Names() = %v", names)
	}
}

func TestAggregator_OverallStatus(t *testing.T) {
	tests := []struct {
		name    string
		results []Result
		want    Status
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Result{Healthy("a"), Healthy("b")}, StatusHealthy},
		{"one degraded", []Result{Healthy("a"), Degraded("b")}, StatusDegraded},
		{"one unhealthy", []Result{Degraded("a"), Unhealthy("b", nil)}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(AggregatorConfig{})
			for i, r := range tt.results {
				_ = agg.Register(fixed(string(rune('a'+i)), r))
			}
			report := agg.CheckAll(context.Background())
			if report.Status != tt.want {
				t.Errorf("Status = %v, want %v", report.Status, tt.want)
			}
			if len(report.Checks) != len(tt.results) {
				t.Errorf("Checks = %d, want %d", len(report.Checks), len(tt.results))
			}
		})
	}
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{Timeout: 20 * time.Millisecond})
	_ = agg.Register(NewCheckerFunc("slow", func(ctx context.Context) Result {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return Healthy("too late")
	}))
	_ = agg.Register(fixed("fast", Healthy("ok")))

	report := agg.CheckAll(context.Background())
	slow := report.Checks["slow"]
	if slow.Status != StatusUnhealthy || !errors.Is(slow.Err, ErrCheckTimeout) {
		t.Errorf("slow = %+v", slow)
	}
	if report.Checks["fast"].Status != StatusHealthy {
		t.Errorf("fast = %+v", report.Checks["fast"])
	}
}

func TestAggregator_CheckSingle(t *testing.T) {
	agg := NewAggregator(AggregatorConfig{})
	_ = agg.Register(fixed("store", Degraded("slow")))

	r, err := agg.Check(context.Background(), "store")
	if err != nil || r.Status != StatusDegraded {
		t.Errorf("Check() = %+v, %v", r, err)
	}
	if _, err := agg.Check(context.Background(), "missing"); !errors.Is(err, ErrCheckerNotFound) {
		t.Errorf("Check(missing) error = %v", err)
	}
}
