package metrics

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPromServerOptsDefaults(t *testing.T) {
	var nilOpts *PromServerOpts
	o := nilOpts.withDefaults()
	if o.Addr != ":9100" || o.Path != "/metrics" {
		t.Errorf("defaults = %s %s", o.Addr, o.Path)
	}
	if o.ShutdownTimeout != 5*time.Second || o.ReadHeaderTimeout != 3*time.Second {
		t.Errorf("timeouts = %v %v", o.ShutdownTimeout, o.ReadHeaderTimeout)
	}
	if o.Logger == nil {
		t.Error("logger not defaulted")
	}
}

func TestPromServerOptsMerge(t *testing.T) {
	logger := zap.NewNop()
	o := (&PromServerOpts{Addr: ":9200", Logger: logger}).withDefaults()

	if o.Addr != ":9200" {
		t.Errorf("addr = %s, want :9200", o.Addr)
	}
	if o.Path != "/metrics" {
		t.Errorf("path = %s, want default /metrics", o.Path)
	}
	if o.Logger != logger {
		t.Error("provided logger replaced by default")
	}
}
