// Package ui provides styled terminal output for the rewind CLI.
package ui

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
)

// Color palette shared by the CLI commands.
var (
	Green     = lipgloss.Color("42")
	Amber     = lipgloss.Color("214")
	Red       = lipgloss.Color("196")
	Blue      = lipgloss.Color("39")
	White     = lipgloss.Color("255")
	LightGray = lipgloss.Color("245")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(Green).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(Blue)
	debugStyle   = lipgloss.NewStyle().Foreground(LightGray)
	warnStyle    = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(Red).Bold(true)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(White)
)

func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

func Info(format string, args ...any) {
	fmt.Println(infoStyle.Render(fmt.Sprintf(format, args...)))
}

func Debug(format string, args ...any) {
	fmt.Println(debugStyle.Render(fmt.Sprintf(format, args...)))
}

func Warn(format string, args ...any) {
	fmt.Println(warnStyle.Render(fmt.Sprintf(format, args...)))
}

func Error(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
}

// Section prints a titled block of indented lines.
func Section(title string, textLines []string) {
	fmt.Println(titleStyle.Render(title))
	for _, line := range textLines {
		fmt.Printf("  %s\n", line)
	}
}

// Table renders tabular data with a styled header row. Cells stay unstyled;
// ANSI escapes inside cells would throw off the column alignment.
func Table(headers []string, rows [][]string) {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	for i, line := range lines {
		if i == 0 {
			fmt.Println(headerStyle.Render(line))
			continue
		}
		fmt.Println(line)
	}
}

// ExecutionStatus colors a rollback execution status for display.
func ExecutionStatus(status string) string {
	switch strings.ToLower(status) {
	case "completed":
		return lipgloss.NewStyle().Foreground(Green).Render(status)
	case "partially_completed":
		return lipgloss.NewStyle().Foreground(Amber).Render(status)
	case "failed":
		return lipgloss.NewStyle().Foreground(Red).Render(status)
	case "cancelled":
		return lipgloss.NewStyle().Foreground(LightGray).Render(status)
	case "pending", "resolving", "executing", "verifying":
		return lipgloss.NewStyle().Foreground(Blue).Render(status)
	default:
		return lipgloss.NewStyle().Foreground(LightGray).Italic(true).Render(status)
	}
}

// HealthStatus colors a health status for display.
func HealthStatus(status string) string {
	switch strings.ToLower(status) {
	case "healthy":
		return lipgloss.NewStyle().Foreground(Green).Render(status)
	case "warning":
		return lipgloss.NewStyle().Foreground(Amber).Render(status)
	case "critical":
		return lipgloss.NewStyle().Foreground(Red).Render(status)
	default:
		return lipgloss.NewStyle().Foreground(LightGray).Italic(true).Render(status)
	}
}
