package ui

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// SignalCancelMsg is sent when a termination signal is received (SIGINT, SIGTERM)
type SignalCancelMsg struct {
	Signal os.Signal
}

// SetupSignalHandling sets up signal handling for graceful cancellation
// NOTE: this should be called before p.Run(), since it alters the program config
func SetupSignalHandling(p *tea.Program, shutdownTimeout time.Duration) chan<- struct{} {
	if shutdownTimeout == 0 {
		// Give bubbletea a small window to finish; the program exits earlier
		// when it completes before the timer elapses.
		shutdownTimeout = 100 * time.Millisecond
	}
	// Remove the bubbletea signal handler when we initialise our own
	tea.WithoutSignalHandler()(p)

	sigChan := make(chan os.Signal, 1)
	doneCh := make(chan struct{})
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)

		sig := <-sigChan
		// The Update function handles cancellation synchronously and then quits
		p.Send(SignalCancelMsg{Signal: sig})

		timer := time.NewTimer(shutdownTimeout)
		defer timer.Stop()

		select {
		case <-sigChan:
			fmt.Fprintf(os.Stderr, "\nForce quitting...\n")
			os.Exit(130)
		case <-timer.C:
			fmt.Fprintf(os.Stderr, "\nTimeout trying to clean up, force quitting...\n")
			os.Exit(130)
		case <-doneCh:
			// Normal exit - graceful shutdown completed
			return
		}
	}()
	return doneCh
}
