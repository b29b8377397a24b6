package cli

import (
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// spinner shows an indeterminate progress line on stderr. A no-op spinner
// is returned when progress output is off.
type spinner struct {
	bar  *progressbar.ProgressBar
	stop func()
}

func startSpinner(enabled bool, description string) *spinner {
	if !enabled {
		return &spinner{stop: func() {}}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	return &spinner{
		bar: bar,
		stop: func() {
			once.Do(func() {
				close(stopCh)
				<-doneCh
			})
		},
	}
}

func (s *spinner) Describe(description string) {
	if s.bar != nil {
		s.bar.Describe(description)
	}
}

func (s *spinner) Stop() {
	s.stop()
}
