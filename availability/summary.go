package availability

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Summary describes one maintenance run of the pipeline
type Summary struct {
	Operation string
	Pages     int
	Checked   int
	Available int
	Deleted   int64
	Started   time.Time
	Duration  time.Duration
}

func (s Summary) String() string {
	out := fmt.Sprintf("%s: %s checked, %s available", s.Operation,
		humanize.Comma(int64(s.Checked)), humanize.Comma(int64(s.Available)))
	if s.Pages > 0 {
		out += fmt.Sprintf(", %s pages", humanize.Comma(int64(s.Pages)))
	}
	if s.Deleted > 0 {
		out += fmt.Sprintf(", %s deleted", humanize.Comma(s.Deleted))
	}
	if s.Duration > 0 {
		out += fmt.Sprintf(" in %s", s.Duration.Round(time.Millisecond))
		if s.Checked > 0 {
			rate := float64(s.Checked) / s.Duration.Seconds()
			out += fmt.Sprintf(" (%s items/s)", humanize.FormatFloat("#,###.##", rate))
		}
	}
	return out
}

func (s *Service) begin(operation string) Summary {
	return Summary{Operation: operation, Started: s.now()}
}

func (s *Service) finish(summary *Summary) {
	summary.Duration = s.now().Sub(summary.Started)
}
