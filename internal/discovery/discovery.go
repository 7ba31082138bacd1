// Package discovery runs the two producer goroutines from spec.md §4.9
// (C9): a one-shot backlog scanner that drains the full needs-embedding
// backlog once at startup, and a recurring change poller that picks up
// rows updated after their embedding was generated. Both feed a single
// bounded channel shared by the worker pool (internal/worker).
//
// Grounded on original_source/src/surreal_client.rs's polling loop, using
// the same ticker/select background-loop shape as the rest of this
// service's long-running goroutines.
package discovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/iskng/embed-star/internal/record"
)

// Source is the subset of *storage.DB discovery depends on.
type Source interface {
	ScanBacklog(ctx context.Context, afterID string, limit int) ([]record.Record, error)
	PollChanges(ctx context.Context, limit int) ([]record.Record, error)
}

const (
	backlogPageSize   = 100
	changePageSize    = 50
	changePollPeriod  = 5 * time.Second
	recentSeenCap     = 10000
	recentSeenResetEvery = 100
)

// Discoverer feeds out chan<- record.Record, closed when both producers
// have exited (context cancellation or, for the backlog scanner, reaching
// the end of the backlog).
type Discoverer struct {
	src    Source
	out    chan record.Record
	logger *slog.Logger
}

// New constructs a Discoverer writing to a channel sized
// batchSize*parallelWorkers*2, per spec.md §4.9's sizing rule.
func New(src Source, batchSize, parallelWorkers int, logger *slog.Logger) *Discoverer {
	capacity := batchSize * parallelWorkers * 2
	if capacity <= 0 {
		capacity = 1
	}
	return &Discoverer{src: src, out: make(chan record.Record, capacity), logger: logger}
}

// Records returns the channel the worker pool reads from.
func (d *Discoverer) Records() <-chan record.Record { return d.out }

// Run starts both producers and blocks until ctx is done and both have
// exited, then closes the output channel.
func (d *Discoverer) Run(ctx context.Context) {
	done := make(chan struct{}, 2)
	go func() { d.runBacklogScan(ctx); done <- struct{}{} }()
	go func() { d.runChangePoll(ctx); done <- struct{}{} }()
	<-done
	<-done
	close(d.out)
}

// runBacklogScan pages through the full backlog once, terminating on the
// first empty page — it does not loop indefinitely, unlike the poller. A
// failed page query is retried after a 5-second pause.
func (d *Discoverer) runBacklogScan(ctx context.Context) {
	afterID := ""
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		page, err := d.src.ScanBacklog(ctx, afterID, backlogPageSize)
		if err != nil {
			d.logger.Warn("discovery: backlog scan page failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		if len(page) == 0 {
			d.logger.Info("discovery: backlog scan complete")
			return
		}
		for _, r := range page {
			select {
			case d.out <- r:
			case <-ctx.Done():
				return
			}
			afterID = r.ID
		}
	}
}

// runChangePoll polls on a fixed period for the lifetime of ctx, keeping a
// bounded recent-seen set so a row doesn't get re-enqueued on back-to-back
// ticks while its write-back is still in flight.
func (d *Discoverer) runChangePoll(ctx context.Context) {
	ticker := time.NewTicker(changePollPeriod)
	defer ticker.Stop()

	recentSeen := make(map[string]struct{})
	ticks := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ticks++
			if ticks%recentSeenResetEvery == 0 || len(recentSeen) > recentSeenCap {
				recentSeen = make(map[string]struct{})
			}

			page, err := d.src.PollChanges(ctx, changePageSize)
			if err != nil {
				d.logger.Warn("discovery: change poll failed", "error", err)
				continue
			}
			for _, r := range page {
				if _, seen := recentSeen[r.ID]; seen {
					continue
				}
				recentSeen[r.ID] = struct{}{}
				select {
				case d.out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
