package ui

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"attachdl/pkg/transfer"
)

type NoticeLevel int

const (
	NoticeSuccess NoticeLevel = iota
	NoticeWarning
	NoticeFailure
)

// Notice is the end-of-run message shown on the console and the desktop.
type Notice struct {
	Level   NoticeLevel
	Title   string
	Message string
}

// RunNotice summarises a finished, interrupted or failed download run from source.
func RunNotice(res *transfer.Result, runErr error, source string) Notice {
	switch {
	case runErr != nil:
		return Notice{Level: NoticeFailure, Title: "attachdl failed", Message: runErr.Error()}
	case res == nil:
		return Notice{Level: NoticeFailure, Title: "attachdl failed", Message: "no result"}
	case res.Interrupted:
		return Notice{
			Level:   NoticeWarning,
			Title:   "attachdl interrupted",
			Message: fmt.Sprintf("%d attachments saved, resume at batch %d", res.Summary.Processed(), res.Checkpoint.Cursor.Sequence),
		}
	case res.Summary.Failed() > 0:
		return Notice{
			Level: NoticeWarning,
			Title: "attachdl finished with failures",
			Message: fmt.Sprintf("%d of %d attachments from %s failed, see the error log",
				res.Summary.Failed(), res.Summary.Processed(), source),
		}
	default:
		return Notice{
			Level:   NoticeSuccess,
			Title:   "attachdl finished",
			Message: fmt.Sprintf("%d attachments from %s", res.Summary.Processed(), source),
		}
	}
}

// Notifier prints notices and mirrors them as desktop notifications where the platform
// has a notification command.
type Notifier struct {
	out     io.Writer
	command func(Notice) *exec.Cmd
}

func NewNotifier() *Notifier {
	goos := runtime.GOOS
	n := &Notifier{out: os.Stdout}
	if _, _, ok := desktopArgs(goos, Notice{}); ok {
		n.command = func(notice Notice) *exec.Cmd {
			name, args, _ := desktopArgs(goos, notice)
			return exec.Command(name, args...)
		}
	}
	return n
}

// Notify prints the notice and returns the desktop command's error, if any. A missing
// notification daemon is common on servers and is only worth a debug line.
func (n *Notifier) Notify(notice Notice) error {
	paint := Green
	switch notice.Level {
	case NoticeWarning:
		paint = Yellow
	case NoticeFailure:
		paint = Red
	}
	fmt.Fprintf(n.out, "\n%s: %s\n", paint(notice.Title), notice.Message)

	if n.command == nil {
		return nil
	}
	return n.command(notice).Run()
}

// desktopArgs builds the notification command for goos.
func desktopArgs(goos string, n Notice) (string, []string, bool) {
	switch goos {
	case "linux":
		urgency := "normal"
		if n.Level == NoticeFailure {
			urgency = "critical"
		}
		return "notify-send", []string{"--app-name=attachdl", "--urgency=" + urgency, n.Title, n.Message}, true
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, n.Message, n.Title)
		return "osascript", []string{"-e", script}, true
	case "windows":
		script := fmt.Sprintf(`[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
$doc.LoadXml('<toast><visual><binding template="ToastText02"><text id="1">%s</text><text id="2">%s</text></binding></visual></toast>')
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("attachdl").Show([Windows.UI.Notifications.ToastNotification]::new($doc))`,
			toastText(n.Title), toastText(n.Message))
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}, true
	default:
		return "", nil, false
	}
}

// toastText escapes s for the toast XML. Quotes become entities, so the text cannot end
// the single-quoted PowerShell string around it.
func toastText(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
