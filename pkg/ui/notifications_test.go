package ui

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"attachdl/pkg/checkpoint"
	"attachdl/pkg/models"
	"attachdl/pkg/recorder"
	"attachdl/pkg/transfer"
)

func TestRunNotice(t *testing.T) {
	tests := []struct {
		name   string
		res    *transfer.Result
		err    error
		level  NoticeLevel
		phrase string
	}{
		{"failed", nil, errors.New("login refused"), NoticeFailure, "login refused"},
		{"interrupted", &transfer.Result{
			Interrupted: true,
			Summary:     recorder.Summary{Succeeded: 40},
			Checkpoint:  checkpoint.Checkpoint{Cursor: models.Cursor{Sequence: 3}},
		}, nil, NoticeWarning, "resume at batch 3"},
		{"with failures", &transfer.Result{
			Completed: true,
			Summary:   recorder.Summary{Succeeded: 8, PermanentFailures: 2},
		}, nil, NoticeWarning, "2 of 10 attachments from ops@example.com failed"},
		{"clean", &transfer.Result{
			Completed: true,
			Summary:   recorder.Summary{Succeeded: 10},
		}, nil, NoticeSuccess, "10 attachments from ops@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := RunNotice(tt.res, tt.err, "ops@example.com")
			if n.Level != tt.level {
				t.Errorf("level = %d, want %d", n.Level, tt.level)
			}
			if !strings.Contains(n.Message, tt.phrase) {
				t.Errorf("message %q does not contain %q", n.Message, tt.phrase)
			}
		})
	}
}

func TestNotifierPrintsAndSends(t *testing.T) {
	var out bytes.Buffer
	var sent []Notice
	n := &Notifier{out: &out, command: func(notice Notice) *exec.Cmd {
		sent = append(sent, notice)
		return exec.Command("true")
	}}

	notice := Notice{Level: NoticeFailure, Title: "attachdl failed", Message: "disk full"}
	if err := n.Notify(notice); err != nil {
		t.Skipf("no 'true' binary: %v", err)
	}
	if !strings.Contains(out.String(), "disk full") {
		t.Errorf("console output missing message: %q", out.String())
	}
	if len(sent) != 1 || sent[0] != notice {
		t.Errorf("desktop notice not sent: %v", sent)
	}

	console := &Notifier{out: &out}
	if err := console.Notify(notice); err != nil {
		t.Errorf("console-only notifier returned %v", err)
	}
}

func TestDesktopArgs(t *testing.T) {
	name, args, ok := desktopArgs("linux", Notice{Level: NoticeFailure, Title: "t", Message: "m"})
	if !ok || name != "notify-send" {
		t.Fatalf("unexpected linux command %q", name)
	}
	if args[1] != "--urgency=critical" {
		t.Errorf("failures should be critical, got %v", args)
	}

	_, args, _ = desktopArgs("darwin", Notice{Title: `say "hi"`, Message: "m"})
	if !strings.Contains(args[1], `with title "say \"hi\""`) {
		t.Errorf("title not quoted for AppleScript: %s", args[1])
	}

	_, args, _ = desktopArgs("windows", Notice{Title: "a<b", Message: "it's & done"})
	script := args[len(args)-1]
	if !strings.Contains(script, "a&lt;b") || !strings.Contains(script, "it&#39;s &amp; done") {
		t.Errorf("toast text not escaped: %s", script)
	}

	if _, _, ok := desktopArgs("plan9", Notice{}); ok {
		t.Error("unsupported platform should have no command")
	}
}
