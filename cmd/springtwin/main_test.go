package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lezhik/SpringTwin/internal/query"
)

const controller = `package com.acme.web;

import org.springframework.web.bind.annotation.*;

@RestController
public class PingController {
    @GetMapping("/ping")
    public String ping() {
        return "pong";
    }
}
`

func writeProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "src", "main", "java", "com", "acme", "web")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "PingController.java"), []byte(controller), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestRootCmd_Commands(t *testing.T) {
	want := []string{"serve", "analyze", "report", "tools", "mcp", "submit", "version"}
	root := newRootCmd()
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("expected command %s, got %v", name, err)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "springtwin dev\n" {
		t.Fatalf("expected version line, got %q", got)
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		root string
		want string
	}{
		{"/src/shop", "shop"},
		{"/", "project"},
		{".", "project"},
	}
	for _, tt := range tests {
		if got := baseName(tt.root); got != tt.want {
			t.Errorf("baseName(%q): expected %s, got %s", tt.root, tt.want, got)
		}
	}
}

func TestRunAnalyze_JSON(t *testing.T) {
	root := writeProject(t)
	var out bytes.Buffer
	if err := runAnalyze(context.Background(), "", root, analyzeFlags{json: true}, &out); err != nil {
		t.Fatal(err)
	}
	var got struct {
		Job struct {
			State string `json:"state"`
		} `json:"job"`
		Stats struct {
			Version int64 `json:"version"`
			Counts  struct {
				Endpoints int `json:"endpoints"`
			} `json:"counts"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("decode %s: %v", out.String(), err)
	}
	if got.Job.State != "completed" || got.Stats.Version != 1 || got.Stats.Counts.Endpoints != 1 {
		t.Fatalf("unexpected analysis output %s", out.String())
	}
}

func TestRunAnalyze_RejectsWatchWithProgress(t *testing.T) {
	err := runAnalyze(context.Background(), "", t.TempDir(), analyzeFlags{watch: true, progress: true}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "--progress") {
		t.Fatalf("expected flag conflict error, got %v", err)
	}
}

func TestRunReport_Markdown(t *testing.T) {
	root := writeProject(t)
	var out bytes.Buffer
	if err := runReport(context.Background(), "", root, query.ReportRequest{Kind: query.ReportContext, Format: query.FormatMarkdown}, false, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.String(), "# Architecture context") {
		t.Fatalf("unexpected report %q", out.String())
	}
}
