package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- prompts tests ---

func TestPromptsShow_Defaults(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	out, err := runCmd(t, "prompts", "show", "analysis", "-c", cfgPath)
	if err != nil {
		t.Fatalf("prompts show: %v", err)
	}
	if !strings.Contains(out, "# analysis instruction") || !strings.Contains(out, "# analysis template") {
		t.Errorf("output = %s", out)
	}
}

func TestPromptsShow_UnknownProfile(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCmd(t, "prompts", "show", "bogus", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unknown profile") {
		t.Fatalf("expected unknown profile error, got %v", err)
	}
}

func TestPromptsSet_ThenShow(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")
	src := filepath.Join(dir, "new.txt")
	if err := os.WriteFile(src, []byte("Split the call by speaker."), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "prompts", "set", "speakers", "instruction", "-f", src, "-c", cfgPath)
	if err != nil {
		t.Fatalf("prompts set: %v", err)
	}
	if !strings.Contains(out, "Updated speakers instruction") {
		t.Errorf("set output = %s", out)
	}

	out, err = runCmd(t, "prompts", "show", "speakers", "-c", cfgPath)
	if err != nil {
		t.Fatalf("prompts show: %v", err)
	}
	if !strings.Contains(out, "Split the call by speaker.") {
		t.Errorf("show output missing new text: %s", out)
	}
}

func TestPromptsSet_UnknownField(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")
	src := filepath.Join(dir, "new.txt")
	os.WriteFile(src, []byte("x"), 0o644)

	_, err := runCmd(t, "prompts", "set", "summary", "body", "-f", src, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestPromptsSet_RequiresFile(t *testing.T) {
	cfgPath, _ := writeConfig(t, "")
	_, err := runCmd(t, "prompts", "set", "summary", "template", "-c", cfgPath)
	if err == nil {
		t.Fatal("expected error without -f")
	}
}
