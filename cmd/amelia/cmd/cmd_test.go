package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "amelia 1.2.3") || !strings.Contains(out, "abc123") {
		t.Errorf("output = %q", out)
	}
}

func TestInitCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "init")
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out, ".amelia.yaml") {
		t.Errorf("output = %q", out)
	}

	data, err := os.ReadFile(".amelia.yaml")
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	if !strings.Contains(string(data), "max_concurrent") {
		t.Error("written config missing expected keys")
	}

	// A second init refuses to overwrite.
	if _, err := execute(t, "init"); err == nil {
		t.Fatal("expected error without --force")
	}
	if _, err := execute(t, "init", "--force"); err != nil {
		t.Fatalf("init --force: %v", err)
	}
	initForce = false
}
