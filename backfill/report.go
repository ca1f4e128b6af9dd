package backfill

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// BatchReport is the outcome of one batch
type BatchReport struct {
	Number      int
	Total       int
	Size        int
	Succeeded   int
	Failed      int
	Written     int
	WriteFailed int
	Flushes     int
	Duration    time.Duration
}

func (b BatchReport) String() string {
	return fmt.Sprintf("batch %d/%d completed in %s: %d succeeded, %d failed, %d shows written",
		b.Number, b.Total, b.Duration.Round(time.Millisecond), b.Succeeded, b.Failed, b.Written)
}

// Report is the outcome of a whole run
type Report struct {
	Started     time.Time
	Duration    time.Duration
	Shows       int
	Succeeded   int
	Failed      int
	Written     int
	WriteFailed int
	Batches     []BatchReport
}

func (r *Report) add(b BatchReport) {
	r.Succeeded += b.Succeeded
	r.Failed += b.Failed
	r.Written += b.Written
	r.WriteFailed += b.WriteFailed
	r.Batches = append(r.Batches, b)
}

// Throughput returns processed shows per minute
func (r Report) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Succeeded+r.Failed) / r.Duration.Minutes()
}

func (r Report) String() string {
	processed := int64(r.Succeeded + r.Failed)
	out := fmt.Sprintf("update-episodes: %s shows processed (%s succeeded, %s failed), %s written in %s",
		humanize.Comma(processed), humanize.Comma(int64(r.Succeeded)), humanize.Comma(int64(r.Failed)),
		humanize.Comma(int64(r.Written)), r.Duration.Round(time.Second))
	if processed > 0 {
		out += fmt.Sprintf(", %s shows/minute", humanize.FormatFloat("#,###.", r.Throughput()))
	}
	return out
}
