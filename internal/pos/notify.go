package pos

import "log"

// Notifier is the user-facing notification sink. Every local rejection and
// confirmation goes through it; implementations decide how to display them
// (toast stream over the API, log line, test recorder).
type Notifier interface {
	Notify(kind string, title string, message string)
}

const (
	NotifySuccess = "success"
	NotifyError   = "error"
	NotifyInfo    = "info"
)

// LogNotifier writes notifications to the process log. Used as the default
// sink when no richer channel is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(kind string, title string, message string) {
	if message == "" {
		log.Printf("[notify] %s: %s", kind, title)
		return
	}
	log.Printf("[notify] %s: %s (%s)", kind, title, message)
}
