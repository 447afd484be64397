package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/arbor-commodities/sugarwire/internal/config"
)

func TestChecker_StopsOnCancel(t *testing.T) {
	collector := NewCollector(&mockStore{})
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   1,
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop after cancel")
	}
}

func TestChecker_ChecksImmediately(t *testing.T) {
	st := &mockStore{}
	collector := NewCollector(st)
	alerter := NewAlerter(config.MonitoringConfig{})
	checker := NewChecker(collector, alerter, config.MonitoringConfig{
		CheckIntervalSecs:   3600, // only the startup check can fire
		LookbackWindowHours: 24,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for st.listCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no check ran at startup")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
