package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	t.Parallel()

	for _, dev := range []bool{true, false} {
		logger, err := New(dev)
		if err != nil {
			t.Fatalf("New(%v) error = %v", dev, err)
		}
		if logger == nil {
			t.Fatalf("New(%v) returned nil logger", dev)
		}
	}
}

func TestForRunNilLogger(t *testing.T) {
	t.Parallel()

	if got := ForRun(nil, "run-1"); got == nil {
		t.Fatalf("ForRun(nil) must return a usable logger")
	}
	if got := ForRun(zap.NewNop(), "run-1"); got == nil {
		t.Fatalf("ForRun returned nil")
	}
}
