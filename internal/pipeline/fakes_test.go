package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trogers1052/eod-ingest-service/internal/logging"
	"github.com/trogers1052/eod-ingest-service/internal/models"
)

const testFeed = "ASXEQUITIESStockEasy"

// fakeSession simulates the portal by dropping a file into dir on each download
type fakeSession struct {
	dir     string
	content string

	loginErr    error
	navErr      error
	downloadErr map[string]error
	noFile      map[string]bool
	// goneAt is the date whose download finds the browser gone
	goneAt      string

	user, password string
	requested      []string
	closeCalls     int
}

func newFakeSession(dir string) *fakeSession {
	return &fakeSession{
		dir:         dir,
		content:     "BHP,20240105,45.10,45.80,44.90,45.50,1000\n",
		downloadErr: map[string]error{},
		noFile:      map[string]bool{},
	}
}

func (s *fakeSession) Login(_ context.Context, user, password string) error {
	s.user, s.password = user, password
	if s.loginErr != nil {
		return models.NewError(models.KindAuth, "login", s.loginErr)
	}
	return nil
}

func (s *fakeSession) NavigateToDownloadSurface(context.Context) error {
	if s.navErr != nil {
		return models.NewError(models.KindNavigation, "open download page", s.navErr)
	}
	return nil
}

func (s *fakeSession) RequestDownload(_ context.Context, date models.TradingDate) error {
	s.requested = append(s.requested, date.Key())
	if s.goneAt == date.Key() {
		return models.NewError(models.KindSession, "request "+date.Key(), errors.New("browser exited"))
	}
	if err := s.downloadErr[date.Key()]; err != nil {
		return models.NewError(models.KindDownload, "request "+date.Key(), err)
	}
	if s.noFile[date.Key()] {
		return nil
	}
	path := filepath.Join(s.dir, models.ArtifactFileName(testFeed, date))
	return os.WriteFile(path, []byte(s.content), 0o644)
}

func (s *fakeSession) Close() error {
	s.closeCalls++
	return nil
}

// fakeOpener hands out the same session and counts opens
type fakeOpener struct {
	session *fakeSession
	err     error
	opens   int
}

func (o *fakeOpener) Open(context.Context) (Session, error) {
	o.opens++
	if o.err != nil {
		return nil, models.NewError(models.KindSession, "start browser", o.err)
	}
	return o.session, nil
}

// fakeStore is an in-memory artifact store
type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	existsErr   error
	writeErr    error
	existsCalls int
	writes      []string
}

func newFakeStore(keys ...string) *fakeStore {
	s := &fakeStore{objects: map[string][]byte{}}
	for _, k := range keys {
		s.objects[k] = []byte("seed")
	}
	return s
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existsCalls++
	if s.existsErr != nil {
		return false, models.NewError(models.KindStore, "exists "+key, s.existsErr)
	}
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) Write(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return models.NewError(models.KindStore, "upload "+key, s.writeErr)
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return models.NewError(models.KindStore, "read "+localPath, err)
	}
	s.objects[key] = data
	s.writes = append(s.writes, key)
	return nil
}

type fakeOracle struct {
	holidays models.HolidaySet
	err      error
	calls    int
}

func (o *fakeOracle) HolidaysInRange(context.Context, models.TradingDate, models.TradingDate) (models.HolidaySet, error) {
	o.calls++
	if o.err != nil {
		return nil, models.NewError(models.KindCalendar, "load holidays", o.err)
	}
	if o.holidays == nil {
		return models.HolidaySet{}, nil
	}
	return o.holidays, nil
}

type fakeSecrets struct {
	values map[string]string
}

func (s *fakeSecrets) Get(_ context.Context, name string) (string, error) {
	v, ok := s.values[name]
	if !ok {
		return "", models.NewError(models.KindSecret, "get "+name, errors.New("not found"))
	}
	return v, nil
}

type fakeNotifier struct {
	events []models.CompletionEvent
	fail   bool
}

func (n *fakeNotifier) Publish(_ context.Context, event models.CompletionEvent) bool {
	n.events = append(n.events, event)
	return !n.fail
}

type fakeReconciler struct {
	calls int
	err   error
}

func (r *fakeReconciler) Reconcile(context.Context) (*models.ReconcileResult, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return &models.ReconcileResult{}, nil
}

type fakeRecorder struct {
	created  []*models.IngestRun
	finished []*models.IngestRun
}

func (r *fakeRecorder) CreateIngestRun(_ context.Context, run *models.IngestRun) error {
	r.created = append(r.created, run)
	return nil
}

func (r *fakeRecorder) FinishIngestRun(_ context.Context, run *models.IngestRun) error {
	r.finished = append(r.finished, run)
	return nil
}

func fastWaiter() FileWaiter {
	return FileWaiter{Timeout: 50 * time.Millisecond, Interval: 5 * time.Millisecond}
}

func testProcessorConfig(dir string) ProcessorConfig {
	return ProcessorConfig{
		Feed:        testFeed,
		Prefix:      "eod/",
		DownloadDir: dir,
		Wait:        fastWaiter(),
	}
}

func date(t *testing.T, key string) models.TradingDate {
	t.Helper()
	d, err := models.ParseTradingDate(key)
	require.NoError(t, err)
	return d
}

func keys(statuses []models.DownloadStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.Date
	}
	return out
}

func names(statuses []models.DownloadStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.Status
	}
	return out
}

var discard = logging.Discard()
