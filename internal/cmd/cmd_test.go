package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/fanout/internal/journal"
	"github.com/Iron-Ham/fanout/internal/testutil"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	return executeCommandContext(context.Background(), root, args...)
}

func executeCommandContext(ctx context.Context, root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

// isolate points config lookup and every data path at a temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("FANOUT_QUEUES_ROOT", filepath.Join(dir, "queues"))
	t.Setenv("FANOUT_BLOB_ROOT", filepath.Join(dir, "blobs"))
	t.Setenv("FANOUT_COORDINATOR_WORK_DIR", filepath.Join(dir, "work"))
	t.Setenv("FANOUT_COORDINATOR_JOURNAL_PATH", filepath.Join(dir, "journal.db"))
	t.Setenv("FANOUT_LOGGING_LEVEL", "error")
	return dir
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "fanout" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "fanout")
	}

	expectedCmds := []string{"coordinator", "worker", "run", "submit", "jobs", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config", "fanout", "config.yaml")

	output, err := executeCommand(rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v\n%s", err, output)
	}
	if !strings.Contains(output, path) {
		t.Errorf("config init output = %q, want path %s", output, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	for _, want := range []string{"backend: dir", "poll_backoff: 2s", "max_workers: 8"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config file missing %q:\n%s", want, data)
		}
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("config init over an existing file should fail without --force")
	}

	t.Setenv("FANOUT_SCALING_MAX_WORKERS", "3")
	output, err = executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if !strings.Contains(output, "max_workers: 3") {
		t.Errorf("config show should reflect the environment override:\n%s", output)
	}
}

func TestSubmitRequiresInput(t *testing.T) {
	isolate(t)
	if _, err := executeCommand(rootCmd, "submit"); err == nil {
		t.Error("submit without --input should fail")
	}
}

func TestRenderJobs(t *testing.T) {
	accepted := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	jobs := []journal.Job{
		{ReplyAddress: "reply-long-address", Status: journal.StatusFinalized, Units: 12, OutputKey: "answer-1.txt", AcceptedAt: accepted},
		{ReplyAddress: "r2", Status: journal.StatusSealed, Units: 3, Skipped: 1, AcceptedAt: accepted},
	}

	var buf bytes.Buffer
	renderJobs(&buf, jobs, false)
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	statusCol := strings.Index(lines[0], "STATUS")
	if statusCol != len("reply-long-address")+2 {
		t.Errorf("header = %q, STATUS at %d", lines[0], statusCol)
	}
	for _, l := range lines[1:] {
		if !strings.HasPrefix(l[statusCol:], "finalized") && !strings.HasPrefix(l[statusCol:], "sealed") {
			t.Errorf("status column misaligned in %q", l)
		}
	}
	if !strings.Contains(lines[2], " - ") {
		t.Errorf("missing output key should render as '-': %q", lines[2])
	}
	if strings.Contains(buf.String(), "\x1b[") {
		t.Error("plain rendering must not contain escape sequences")
	}

	buf.Reset()
	renderJobs(&buf, nil, false)
	if !strings.Contains(buf.String(), "No jobs") {
		t.Errorf("empty rendering = %q", buf.String())
	}
}

func TestRunLocal(t *testing.T) {
	dir := isolate(t)
	t.Setenv("FANOUT_QUEUES_BACKEND", "memory")
	t.Setenv("FANOUT_COORDINATOR_POLL_BACKOFF", "5ms")
	t.Setenv("FANOUT_COORDINATOR_INTAKE_TICK", "1ms")
	t.Setenv("FANOUT_COORDINATOR_DRAIN_DELAY", "10ms")
	t.Setenv("FANOUT_WORKER_WAIT", "20ms")
	t.Setenv("FANOUT_WORKER_POLL_BACKOFF", "5ms")
	t.Setenv("FANOUT_WORKER_DRAIN_DELAY", "10ms")
	t.Setenv("FANOUT_CLIENT_REPLY_WAIT", "50ms")

	input := filepath.Join(dir, "reviews.jsonl")
	blob := testutil.InputBlob(
		testutil.InputLine(t, "Phone",
			testutil.Review{Link: "https://example.com/r/1", Text: "Great phone, love it.", Rating: 5},
			testutil.Review{Link: "https://example.com/r/2", Text: "Broke in a week.", Rating: 1}),
	)
	if err := os.WriteFile(input, blob, 0644); err != nil {
		t.Fatal(err)
	}
	report := filepath.Join(dir, "report.html")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	output, err := executeCommandContext(ctx, rootCmd, "run", "-i", input, "-o", report, "-n", "1")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, output)
	}
	if !strings.Contains(output, "2 reviews analyzed") {
		t.Errorf("run output = %q", output)
	}
	html, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(html), "https://example.com/r/2") {
		t.Error("report is missing a review link")
	}

	output, err = executeCommand(rootCmd, "jobs")
	if err != nil {
		t.Fatalf("jobs error = %v", err)
	}
	if !strings.Contains(output, "finalized") || !strings.Contains(output, "answer-1.txt") {
		t.Errorf("jobs output = %q", output)
	}
}
