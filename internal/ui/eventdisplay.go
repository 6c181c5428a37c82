package ui

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/rewindlabs/rewind/internal/logging"
)

// DisplayEvent renders one engine event in follow mode. Events already
// scoped to an execution skip the ID prefix.
func DisplayEvent(event logging.Event, scoped bool) {
	message := event.Message
	if !scoped {
		if event.ExecutionID != "" {
			message = fmt.Sprintf("[%s] %s", event.ExecutionID, message)
		} else if event.DeploymentID != "" {
			message = fmt.Sprintf("[%s] %s", event.DeploymentID, message)
		}
	}

	// Multi-line error fields get their own indented block.
	if errorStr := extractErrorField(event); errorStr != "" {
		if strings.Contains(errorStr, "\n") {
			displayMultiLineError(event.Level, message, errorStr)
			return
		}
		message = fmt.Sprintf("%s (error=%s)", message, errorStr)
	}

	displayMessage(event.Level, message)
}

func extractErrorField(event logging.Event) string {
	if len(event.Fields) > 0 {
		if errorValue, hasError := event.Fields["error"]; hasError {
			return fmt.Sprintf("%v", errorValue)
		}
	}
	return ""
}

func displayMultiLineError(level, message, errorStr string) {
	display := Info
	switch strings.ToUpper(level) {
	case "ERROR":
		display = Error
	case "WARN":
		display = Warn
	}

	display("%s", message)
	scanner := bufio.NewScanner(strings.NewReader(errorStr))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			display("    %s", line)
		}
	}
}

func displayMessage(level, message string) {
	switch strings.ToUpper(level) {
	case "ERROR":
		Error("%s", message)
	case "WARN":
		Warn("%s", message)
	case "INFO":
		Info("%s", message)
	case "DEBUG":
		Debug("%s", message)
	default:
		fmt.Println(message)
	}
}
