package ui

import (
	"fmt"
	"strings"
	"time"
)

const byteUnit = 1024

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	if bytes < byteUnit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(byteUnit), 0
	for n := bytes / byteUnit; n >= byteUnit; n /= byteUnit {
		div *= byteUnit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed formats a bytes-per-second rate.
func FormatSpeed(bps float64) string {
	return FormatBytes(int64(bps)) + "/s"
}

// FormatETA renders a remaining-time estimate, rounded to the second.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	return d.Round(time.Second).String()
}

// ColorizeStatus applies color styling to a chunk or transfer status.
// Handles statuses like "completed", "in-flight", "pending", "failed",
// "cancelled" and "degraded".
func ColorizeStatus(status string) string {
	parts := strings.Split(status, "-")
	var capitalized []string
	for _, part := range parts {
		if len(part) > 0 {
			capitalized = append(capitalized, strings.ToUpper(part[:1])+strings.ToLower(part[1:]))
		}
	}
	displayStatus := strings.Join(capitalized, " ")

	switch strings.ToLower(strings.ReplaceAll(status, "-", "")) {
	case "completed", "success":
		return GreenStyle.Render(displayStatus)
	case "inflight":
		return CyanStyle.Render(displayStatus)
	case "pending":
		return PendingStyle.Render(displayStatus)
	case "degraded", "cancelled":
		return YellowStyle.Render(displayStatus)
	case "failed":
		return RedStyle.Render(displayStatus)
	default:
		return BoldStyle.Render(displayStatus)
	}
}

// FormatTimestamp formats a time.Time to a human-readable string
func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// FormatError formats an error message with styling
// NOTE: Adds a new line manually. Use strings.TrimSpace if you want to strip it.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	// Append a new line because the last line when a bubbletea program exits
	// appears to be overwritten.
	// Issue here: https://github.com/charmbracelet/bubbletea/issues/304
	return ErrorStyle.Render(fmt.Sprintf("✗ Error: %s", err.Error())) + "\n"
}
