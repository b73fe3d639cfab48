package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/logging"
	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	clamd "github.com/dutchcoders/go-clamd"
	"go.uber.org/zap"
)

const (
	ScanClean    = "clean"
	ScanInfected = "infected"
)

// ScanJob is one stored file waiting for a verdict.
type ScanJob struct {
	Path      string // on disk
	Display   string // as reported to clients
	Filename  string
	Protected *bool
}

// streamScanner is the part of *clamd.Clamd the quarantine needs.
type streamScanner interface {
	ScanStream(r io.Reader, abort chan bool) (chan *clamd.ScanResult, error)
}

// Quarantine scans uploads in the background and removes infected files.
type Quarantine struct {
	clam   streamScanner
	events EventPublisher
	log    *zap.Logger

	mu      sync.RWMutex
	stopped bool
	jobs    chan ScanJob
	wg      sync.WaitGroup
}

func NewQuarantine(clamavURL string, events EventPublisher, logger *zap.Logger) *Quarantine {
	return newQuarantine(clamd.NewClamd(clamavURL), events, logger)
}

func newQuarantine(clam streamScanner, events EventPublisher, logger *zap.Logger) *Quarantine {
	if events == nil {
		events = NopPublisher{}
	}
	return &Quarantine{
		clam:   clam,
		events: events,
		log:    logging.OrNop(logger).Named("clamav"),
		jobs:   make(chan ScanJob, 64),
	}
}

// Start runs n scan workers until Stop.
func (q *Quarantine) Start(n int) {
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				if _, err := q.Scan(job); err != nil {
					q.log.Warn("scan failed", zap.String("path", job.Display), zap.Error(err))
				}
			}
		}()
	}
}

// Submit queues job. It never blocks the request: a full queue, or a
// stopped quarantine, drops the job.
func (q *Quarantine) Submit(job ScanJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		q.log.Warn("scanner stopped, skipping", zap.String("path", job.Display))
		return false
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.log.Warn("scan queue full, skipping", zap.String("path", job.Display))
		return false
	}
}

// Stop drains the queue and waits for the workers.
func (q *Quarantine) Stop() {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Scan streams the file to clamd and deletes it when a signature matches.
func (q *Quarantine) Scan(job ScanJob) (string, error) {
	f, err := os.Open(job.Path)
	if errors.Is(err, fs.ErrNotExist) {
		// deleted before we got to it
		return ScanClean, nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	results, err := q.clam.ScanStream(f, make(chan bool))
	if err != nil {
		return "", fmt.Errorf("clamd: %w", err)
	}

	status, signature := ScanClean, ""
	for res := range results {
		if res.Status == clamd.RES_FOUND {
			status, signature = ScanInfected, res.Description
		}
	}
	if status == ScanClean {
		q.log.Debug("scan clean", zap.String("path", job.Display))
		return status, nil
	}

	q.log.Warn("virus detected", zap.String("path", job.Display), zap.String("signature", signature))
	f.Close()
	if err := os.Remove(job.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return status, fmt.Errorf("remove infected file: %w", err)
	}

	err = q.events.Publish(context.Background(), models.SubjectFileInfected, models.Event{
		Action:    "infected",
		Path:      job.Display,
		Filename:  job.Filename,
		Protected: job.Protected,
		Detail:    signature,
		At:        time.Now().UTC(),
	})
	return status, err
}
