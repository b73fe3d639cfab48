package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/File-Sharing-BondBridg/Content-Delivery-Service/internal/models"
	clamd "github.com/dutchcoders/go-clamd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eicar = []byte("X5O!P%@AP[4\\PZX54(P^)7CC)7}$EICAR")

// fakeClam flags any stream containing the eicar marker.
type fakeClam struct {
	err error
}

func (f fakeClam) ScanStream(r io.Reader, _ chan bool) (chan *clamd.ScanResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	ch := make(chan *clamd.ScanResult, 1)
	if bytes.Contains(b, eicar) {
		ch <- &clamd.ScanResult{Status: clamd.RES_FOUND, Description: "Eicar-Test-Signature"}
	} else {
		ch <- &clamd.ScanResult{Status: clamd.RES_OK}
	}
	close(ch)
	return ch, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []models.Event
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, ev models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func writeTemp(t *testing.T, body []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(p, body, 0o644))
	return p
}

func TestQuarantine_CleanFileStays(t *testing.T) {
	pub := &recordingPublisher{}
	q := newQuarantine(fakeClam{}, pub, nil)
	p := writeTemp(t, []byte("harmless"))

	status, err := q.Scan(ScanJob{Path: p, Display: "entando-data/public/upload.bin"})
	require.NoError(t, err)
	assert.Equal(t, ScanClean, status)

	_, err = os.Stat(p)
	assert.NoError(t, err)
	assert.Empty(t, pub.subjects)
}

func TestQuarantine_InfectedFileRemovedAndAnnounced(t *testing.T) {
	pub := &recordingPublisher{}
	q := newQuarantine(fakeClam{}, pub, nil)
	p := writeTemp(t, append([]byte("prefix "), eicar...))

	status, err := q.Scan(ScanJob{Path: p, Display: "entando-data/public/upload.bin", Filename: "upload.bin"})
	require.NoError(t, err)
	assert.Equal(t, ScanInfected, status)

	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	require.Equal(t, []string{models.SubjectFileInfected}, pub.subjects)
	assert.Equal(t, "Eicar-Test-Signature", pub.events[0].Detail)
	assert.Equal(t, "upload.bin", pub.events[0].Filename)
}

func TestQuarantine_MissingFileIsClean(t *testing.T) {
	q := newQuarantine(fakeClam{}, nil, nil)

	status, err := q.Scan(ScanJob{Path: filepath.Join(t.TempDir(), "gone")})
	require.NoError(t, err)
	assert.Equal(t, ScanClean, status)
}

func TestQuarantine_ClamdUnavailable(t *testing.T) {
	q := newQuarantine(fakeClam{err: errors.New("dial tcp: connection refused")}, nil, nil)
	p := writeTemp(t, eicar)

	_, err := q.Scan(ScanJob{Path: p})
	assert.Error(t, err)

	_, err = os.Stat(p)
	assert.NoError(t, err, "files are kept when no verdict was reached")
}

func TestQuarantine_WorkersDrainOnStop(t *testing.T) {
	pub := &recordingPublisher{}
	q := newQuarantine(fakeClam{}, pub, nil)
	q.Start(2)

	var paths []string
	for i := 0; i < 5; i++ {
		p := writeTemp(t, eicar)
		paths = append(paths, p)
		require.True(t, q.Submit(ScanJob{Path: p}))
	}
	q.Stop()
	q.Stop()

	for _, p := range paths {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), p)
	}
	assert.Len(t, pub.subjects, 5)
}

func TestQuarantine_SubmitAfterStop(t *testing.T) {
	q := newQuarantine(fakeClam{}, nil, nil)
	q.Start(1)
	q.Stop()

	p := writeTemp(t, eicar)
	assert.NotPanics(t, func() {
		assert.False(t, q.Submit(ScanJob{Path: p}))
	})
	_, err := os.Stat(p)
	assert.NoError(t, err, "nothing scans after stop")
}
