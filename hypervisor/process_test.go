package hypervisor

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func TestOwnProcess_DoneCarriesWaitErr(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 3")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	p := NewOwnProcess(cmd)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process exit not observed")
	}
	if p.WaitErr() == nil {
		t.Error("exit status 3 should surface through WaitErr")
	}
}

func TestAdoptProcess_RejectsDeadPid(t *testing.T) {
	if _, err := AdoptProcess(1<<30, "qemu-system-x86_64", "/nonexistent.qcow2"); err == nil {
		t.Fatal("expected adoption of a dead pid to fail")
	}
}

func TestAdoptProcess_DetectsExit(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "sleep 30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	p, err := AdoptProcess(cmd.Process.Pid, "sh", "sleep 30")
	if err != nil {
		t.Fatalf("adopt: %v", err)
	}
	defer p.Release()

	if err := p.Kill(); err != nil {
		t.Fatalf("kill adopted: %v", err)
	}
	go cmd.Wait() //nolint:errcheck // reap so liveness flips

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("adopted process exit not detected")
	}
}

func TestExitError_Format(t *testing.T) {
	cause := errors.New("exit status 1")
	err := &ExitError{LogTail: "qemu: -drive bad option", Err: cause}

	msg := err.Error()
	for _, want := range []string{"hypervisor exited during startup", "exit status 1", "log tail", "-drive bad option"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("ExitError should unwrap to its cause")
	}

	bare := &ExitError{}
	if got := bare.Error(); got != "hypervisor exited during startup" {
		t.Errorf("bare error rendered %q", got)
	}
}
