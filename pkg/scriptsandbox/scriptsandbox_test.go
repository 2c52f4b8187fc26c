package scriptsandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCallsMainWithTargetRoot(t *testing.T) {
	script := `
captured = []

def main(target_root):
    aurora.info("installing into " + target_root)
`
	sb := New(time.Second, nil)
	if err := sb.Run(context.Background(), script, "/mnt/target"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestRunRejectsMissingMain(t *testing.T) {
	sb := New(time.Second, nil)
	err := sb.Run(context.Background(), "x = 1", "/mnt/target")
	if err == nil {
		t.Fatal("expected error for script with no main()")
	}
	if !strings.Contains(err.Error(), "main") {
		t.Errorf("error = %v, want mention of main()", err)
	}
}

func TestRunRejectsLoad(t *testing.T) {
	script := `
load("anything.star", "x")

def main(target_root):
    pass
`
	sb := New(time.Second, nil)
	err := sb.Run(context.Background(), script, "/mnt/target")
	if err == nil {
		t.Fatal("expected load() to be rejected in the sandboxed environment")
	}
}

func TestRunRejectsScriptError(t *testing.T) {
	script := `
def main(target_root):
    fail("boom")
`
	sb := New(time.Second, nil)
	err := sb.Run(context.Background(), script, "/mnt/target")
	if err == nil {
		t.Fatal("expected error propagated from a failing script")
	}
}

func TestRunTimesOut(t *testing.T) {
	script := `
def main(target_root):
    x = 0
    for i in range(100000000):
        x += i
`
	sb := New(5*time.Millisecond, nil)
	err := sb.Run(context.Background(), script, "/mnt/target")
	if err == nil {
		t.Fatal("expected a slow script to hit the sandbox timeout")
	}
}
