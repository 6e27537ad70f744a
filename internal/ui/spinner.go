// spinner.go implements the CLI spinner shown while tklogs works in the
// background (bulk downloads, archiving) outside the interactive pane.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

const spinnerInterval = 120 * time.Millisecond

var (
	spinnerFrames = []rune{'|', '/', '-', '\\'}
	okMark        = color.New(color.FgHiGreen, color.Bold)
	failMark      = color.New(color.FgHiRed, color.Bold)
)

// StartSpinner animates message on w until the returned stop function runs.
// stop clears the animation and prints the outcome with the elapsed time.
// Calling stop more than once is safe.
func StartSpinner(w io.Writer, message string) func(success bool) {
	// room for the frame now and the outcome mark later
	message = fitLine(w, message, 24)
	started := time.Now()
	quit := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(spinnerInterval)
		defer ticker.Stop()
		for frame := 0; ; frame++ {
			select {
			case <-quit:
				fmt.Fprintf(w, "\r%s    \r", message)
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %c", message, spinnerFrames[frame%len(spinnerFrames)])
			}
		}
	}()
	stopped := false
	return func(success bool) {
		if stopped {
			return
		}
		stopped = true
		close(quit)
		<-finished
		mark := okMark.Sprint("[done]")
		if !success {
			mark = failMark.Sprint("[fail]")
		}
		fmt.Fprintf(w, "\r%s %s (%s)\n", message, mark, time.Since(started).Round(100*time.Millisecond))
	}
}
