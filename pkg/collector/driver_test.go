package collector

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/petfinder-collector/internal/testutil"
	"github.com/Sternrassler/petfinder-collector/pkg/auth"
	"github.com/Sternrassler/petfinder-collector/pkg/client"
	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/petfinder"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/Sternrassler/petfinder-collector/pkg/sink"
	"github.com/rs/zerolog"
)

const runKey = "cat:adopted"

var filters = partition.Filters{AnimalType: "cat", Status: "adopted", Sort: "recent"}

func testLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}

// recordingStore wraps a Store, remembers every save and can fail after a
// number of successful saves.
type recordingStore struct {
	progress.Store

	mu        sync.Mutex
	saves     []progress.PartitionProgress
	failAfter int // 0 = never
}

func (s *recordingStore) Save(ctx context.Context, runKey, partitionID string, p *progress.PartitionProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.saves) >= s.failAfter {
		return &progress.PersistenceError{Backend: progress.BackendFile, Op: "save", RunKey: runKey, PartitionID: partitionID, Err: errors.New("disk full")}
	}
	if err := s.Store.Save(ctx, runKey, partitionID, p); err != nil {
		return err
	}
	s.saves = append(s.saves, *p.Clone())
	return nil
}

func (s *recordingStore) savesFor(id string) []progress.PartitionProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []progress.PartitionProgress
	for _, p := range s.saves {
		if p.PartitionID == id {
			out = append(out, p)
		}
	}
	return out
}

type harness struct {
	dir    string
	client *client.Client
	store  *recordingStore
	sink   *sink.CSVSink
	driver *Driver
}

// newHarness wires a full driver against the mock with zero pacing. Calling it
// again with the same dir simulates a process restart.
func newHarness(t *testing.T, mock *testutil.MockPetfinder, dir string, pageSize int) *harness {
	t.Helper()

	provider, err := auth.NewProvider(auth.Config{
		TokenURL:     mock.TokenURL(),
		ClientID:     testutil.MockClientID,
		ClientSecret: testutil.MockClientSecret,
	})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	cfg := client.DefaultConfig(mock.URL(), provider)
	cfg.RequestInterval = 0
	cfg.Retry = client.RetryPolicy{Delays: []time.Duration{time.Millisecond, time.Millisecond}}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	machine, err := pagination.NewMachine(pagination.Config{
		Executor:  c,
		Codec:     petfinder.NewCodec(),
		Flattener: petfinder.NewFlattener(),
		PageSize:  pageSize,
	})
	if err != nil {
		t.Fatalf("NewMachine() error = %v", err)
	}

	fs, err := progress.NewFileStore(dir, *testLogger())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	store := &recordingStore{Store: fs}

	out, err := sink.NewCSVSink(dir, petfinder.Columns, *testLogger())
	if err != nil {
		t.Fatalf("NewCSVSink() error = %v", err)
	}

	d, err := New(Options{Machine: machine, Store: store, Sink: out, Logger: testLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &harness{dir: dir, client: c, store: store, sink: out, driver: d}
}

func states(ids ...string) []partition.Partition {
	out := make([]partition.Partition, len(ids))
	for i, id := range ids {
		out[i] = partition.Partition{ID: id, SubQueries: []string{id}, Filters: filters}
	}
	return out
}

func (h *harness) load(t *testing.T) map[string]*progress.PartitionProgress {
	t.Helper()
	loaded, err := h.store.Load(context.Background(), runKey)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return loaded
}

func (h *harness) ids(t *testing.T, partitionID string) []string {
	t.Helper()
	ids, err := h.sink.LoadIDs(context.Background(), runKey, partitionID)
	if err != nil {
		t.Fatalf("LoadIDs() error = %v", err)
	}
	return ids
}

func assertUniqueRange(t *testing.T, ids []string, first, n int) {
	t.Helper()
	if len(ids) != n {
		t.Errorf("len(ids) = %d, want %d", len(ids), n)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			t.Errorf("id %s written twice", id)
		}
		seen[id] = true
	}
	for i := 0; i < n; i++ {
		if id := strconv.Itoa(first + i); !seen[id] {
			t.Errorf("id %s missing", id)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	fs, err := progress.NewFileStore(t.TempDir(), *testLogger())
	if err != nil {
		t.Fatal(err)
	}
	out, err := sink.NewCSVSink(t.TempDir(), petfinder.Columns, *testLogger())
	if err != nil {
		t.Fatal(err)
	}
	m := &pagination.Machine{}

	tests := []struct {
		name string
		opts Options
	}{
		{name: "no machine", opts: Options{Store: fs, Sink: out}},
		{name: "no store", opts: Options{Machine: m, Sink: out}},
		{name: "no sink", opts: Options{Machine: m, Store: fs}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

// 237 results at page size 100: three requests, three saves, 237 records.
func TestRun_ThreePagePartition(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 237, 1)

	h := newHarness(t, mock, t.TempDir(), 100)
	res, err := h.driver.Run(context.Background(), runKey, states("CA"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Status != RunFinished {
		t.Errorf("Status = %s, want %s", res.Status, RunFinished)
	}
	if res.Requests != 3 || mock.RequestCount() != 3 {
		t.Errorf("requests = %d (mock %d), want 3", res.Requests, mock.RequestCount())
	}
	if res.Records != 237 {
		t.Errorf("Records = %d, want 237", res.Records)
	}

	saves := h.store.savesFor("CA")
	want := []struct {
		status  progress.Status
		page    int
		records int
	}{
		{progress.StatusInProgress, 1, 100},
		{progress.StatusInProgress, 2, 200},
		{progress.StatusComplete, 3, 237},
	}
	if len(saves) != len(want) {
		t.Fatalf("saves = %d, want %d", len(saves), len(want))
	}
	for i, w := range want {
		if saves[i].Status != w.status || saves[i].Page != w.page || saves[i].RecordsSoFar != w.records {
			t.Errorf("save %d = %s page %d records %d, want %s page %d records %d",
				i+1, saves[i].Status, saves[i].Page, saves[i].RecordsSoFar, w.status, w.page, w.records)
		}
	}

	assertUniqueRange(t, h.ids(t, "CA"), 1, 237)

	for i, r := range mock.Requests() {
		if r.Page != i+1 || r.Limit != 100 || r.Query.Get("type") != "cat" || r.Query.Get("status") != "adopted" {
			t.Errorf("request %d = page %d limit %d query %v", i, r.Page, r.Limit, r.Query)
		}
	}
}

func TestRun_QuotaPausesAndResumes(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 50, 1)
	mock.SetAnimalCount("TX", 450, 1000)
	mock.SetAnimalCount("WY", 5, 5000)
	mock.SetPageResponse("TX", 4, testutil.NewQuotaResponse(), 1)

	dir := t.TempDir()
	parts := states("CA", "TX", "WY")

	h := newHarness(t, mock, dir, 100)
	res, err := h.driver.Run(context.Background(), runKey, parts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunPaused || res.PausedAt != "TX" || !res.State.QuotaExhausted {
		t.Fatalf("result = %s paused at %q, want paused at TX", res.Status, res.PausedAt)
	}
	if res.State.Cursor != (progress.Cursor{SubqueryIndex: 0, Page: 4}) {
		t.Errorf("State.Cursor = %v, want 0/4", res.State.Cursor)
	}

	loaded := h.load(t)
	if tx := loaded["TX"]; tx.Status != progress.StatusInProgress || tx.Page != 3 || tx.RecordsSoFar != 300 {
		t.Errorf("TX progress = %+v, want in_progress after page 3 with 300 records", tx)
	}
	if _, ok := loaded["WY"]; ok {
		t.Error("WY has progress, want untouched after the pause")
	}
	for _, r := range mock.Requests() {
		if r.Location == "WY" {
			t.Error("WY was requested after the quota ran out")
		}
	}

	mock.Reset()
	h2 := newHarness(t, mock, dir, 100)
	res, err = h2.driver.Run(context.Background(), runKey, parts)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if res.Status != RunFinished {
		t.Fatalf("resumed Status = %s, want %s", res.Status, RunFinished)
	}

	reqs := mock.Requests()
	if len(reqs) == 0 {
		t.Fatal("resumed run issued no requests")
	}
	if reqs[0].Location != "TX" || reqs[0].Page != 4 {
		t.Errorf("first resumed request = %+v, want TX page 4", reqs[0])
	}
	for _, r := range reqs {
		if r.Location == "CA" {
			t.Error("complete partition CA requested again")
		}
	}

	assertUniqueRange(t, h2.ids(t, "TX"), 1000, 450)
	if got := h2.load(t)["TX"].RecordsSoFar; got != 450 {
		t.Errorf("TX RecordsSoFar = %d, want 450", got)
	}
}

func TestRun_FatalPartitionDoesNotStopRun(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 3, 1)
	mock.SetAnimalCount("TX", 4, 100)
	mock.SetPageResponse("ZZ", 1, testutil.NewInvalidLocationResponse(), 0)

	dir := t.TempDir()
	h := newHarness(t, mock, dir, 100)
	res, err := h.driver.Run(context.Background(), runKey, states("CA", "ZZ", "TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunFinished {
		t.Errorf("Status = %s, want %s", res.Status, RunFinished)
	}
	if strings.Join(res.Completed, ",") != "CA,TX" || strings.Join(res.Failed, ",") != "ZZ" {
		t.Errorf("Completed = %v, Failed = %v", res.Completed, res.Failed)
	}

	var apiErr *client.APIError
	if !errors.As(res.Failures["ZZ"], &apiErr) || apiErr.StatusCode != 400 || apiErr.ErrorClass != client.ErrorClassClient {
		t.Errorf("Failures[ZZ] = %v, want client APIError with status 400", res.Failures["ZZ"])
	}
	if len(res.Failures) != 1 {
		t.Errorf("Failures = %v, want only ZZ", res.Failures)
	}

	zz := h.load(t)["ZZ"]
	if zz.Status != progress.StatusFailed || zz.FailureReason == "" {
		t.Errorf("ZZ progress = %+v, want failed with a reason", zz)
	}
	if zz.Cursor() != (progress.Cursor{SubqueryIndex: 0, Page: 1}) {
		t.Errorf("ZZ cursor = %v, want 0/1", zz.Cursor())
	}
	if got := mock.RequestCount(); got != 3 {
		t.Errorf("requests = %d, want 3 (the 400 is not retried)", got)
	}

	// Failed partitions are not retried automatically.
	mock.Reset()
	res, err = newHarness(t, mock, dir, 100).driver.Run(context.Background(), runKey, states("CA", "ZZ", "TX"))
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if mock.RequestCount() != 0 || len(res.Skipped) != 3 {
		t.Errorf("second run requests = %d skipped = %v, want 0 and all", mock.RequestCount(), res.Skipped)
	}
}

func TestRun_AllCompleteIssuesNoRequests(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 10, 1)
	mock.SetAnimalCount("TX", 10, 100)

	dir := t.TempDir()
	if _, err := newHarness(t, mock, dir, 100).driver.Run(context.Background(), runKey, states("CA", "TX")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mock.Reset()
	h := newHarness(t, mock, dir, 100)
	res, err := h.driver.Run(context.Background(), runKey, states("CA", "TX"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Status != RunFinished || res.Requests != 0 || mock.RequestCount() != 0 || mock.TokenExchanges() != 0 {
		t.Errorf("rerun status %s requests %d/%d exchanges %d, want finished with none",
			res.Status, res.Requests, mock.RequestCount(), mock.TokenExchanges())
	}
	if len(h.store.saves) != 0 {
		t.Errorf("rerun saved %d times, want 0", len(h.store.saves))
	}
}

// A crash between the sink append and the progress save re-fetches the page
// on resume; the ids already written are not written again.
func TestRun_CrashBetweenAppendAndSave(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 250, 1)

	dir := t.TempDir()
	h := newHarness(t, mock, dir, 100)
	h.store.failAfter = 1

	res, err := h.driver.Run(context.Background(), runKey, states("CA"))
	if !errors.Is(err, progress.ErrPersistence) {
		t.Fatalf("Run() error = %v, want ErrPersistence", err)
	}
	if res.Status != RunAborted || res.Err == nil {
		t.Errorf("result = %s err %v, want aborted", res.Status, res.Err)
	}
	if got := h.load(t)["CA"].Page; got != 1 {
		t.Fatalf("saved page = %d, want 1", got)
	}
	if got := len(h.ids(t, "CA")); got != 200 {
		t.Fatalf("ids written before the crash = %d, want 200", got)
	}

	mock.Reset()
	h2 := newHarness(t, mock, dir, 100)
	res, err = h2.driver.Run(context.Background(), runKey, states("CA"))
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	if res.Status != RunFinished {
		t.Errorf("Status = %s, want %s", res.Status, RunFinished)
	}
	if reqs := mock.Requests(); len(reqs) != 2 || reqs[0].Page != 2 {
		t.Errorf("resumed requests = %+v, want pages 2 and 3", reqs)
	}

	assertUniqueRange(t, h2.ids(t, "CA"), 1, 250)
	final := h2.load(t)["CA"]
	if final.Status != progress.StatusComplete || final.RecordsSoFar != 250 {
		t.Errorf("final = %+v, want complete with 250 records", final)
	}
}

func TestRun_NevadaSubQueries(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("89009", 12, 1)
	mock.SetAnimals("89011", 11, 12, 13)
	mock.SetAnimalCount("89014", 0, 0)

	nv := partition.Partition{ID: partition.NevadaID, SubQueries: []string{"89009", "89011", "89014"}, Filters: filters}
	h := newHarness(t, mock, t.TempDir(), 10)

	res, err := h.driver.Run(context.Background(), runKey, []partition.Partition{nv})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Records != 13 {
		t.Errorf("Records = %d, want 13", res.Records)
	}

	var got []string
	for _, r := range mock.Requests() {
		got = append(got, r.Location+"/"+strconv.Itoa(r.Page))
	}
	if want := "89009/1,89009/2,89011/1,89014/1"; strings.Join(got, ",") != want {
		t.Errorf("requests = %s, want %s", strings.Join(got, ","), want)
	}

	saves := h.store.savesFor(partition.NevadaID)
	if len(saves) != 4 {
		t.Fatalf("saves = %d, want 4", len(saves))
	}
	if saves[1].SubqueryIndex != 1 || saves[1].Page != 0 {
		t.Errorf("save after exhausting 89009 = %d/%d, want 1/0", saves[1].SubqueryIndex, saves[1].Page)
	}
	ids := h.ids(t, partition.NevadaID)
	sort.Strings(ids)
	assertUniqueRange(t, ids, 1, 13)
}

func TestRun_RetryExhaustedThenReset(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 25, 1)
	mock.SetPageResponse("CA", 2, testutil.NewServerErrorResponse(), 3)

	dir := t.TempDir()
	h := newHarness(t, mock, dir, 10)
	res, err := h.driver.Run(context.Background(), runKey, states("CA"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Failed) != 1 {
		t.Fatalf("Failed = %v, want [CA]", res.Failed)
	}
	if !errors.Is(res.Failures["CA"], client.ErrRetryExhausted) {
		t.Errorf("Failures[CA] = %v, want ErrRetryExhausted", res.Failures["CA"])
	}
	ca := h.load(t)["CA"]
	if ca.Status != progress.StatusFailed || ca.Page != 1 || !strings.Contains(ca.FailureReason, "retry attempts exhausted") {
		t.Errorf("CA = %+v, want failed after page 1", ca)
	}
	if got := mock.RequestCount(); got != 4 {
		t.Errorf("requests = %d, want 1 + 3 attempts", got)
	}

	reset, err := progress.Reset(context.Background(), h.store, runKey, nil)
	if err != nil || len(reset) != 1 {
		t.Fatalf("Reset() = %v, %v", reset, err)
	}

	mock.Reset()
	h2 := newHarness(t, mock, dir, 10)
	res, err = h2.driver.Run(context.Background(), runKey, states("CA"))
	if err != nil {
		t.Fatalf("Run() after reset error = %v", err)
	}
	if len(res.Completed) != 1 {
		t.Errorf("Completed = %v, want [CA]", res.Completed)
	}
	if reqs := mock.Requests(); reqs[0].Page != 2 {
		t.Errorf("first request after reset = page %d, want 2", reqs[0].Page)
	}
	assertUniqueRange(t, h2.ids(t, "CA"), 1, 25)
}

func TestRun_AuthAborts(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()
	mock.SetAnimalCount("CA", 5, 1)
	mock.SetCredentials("other", "keys")

	h := newHarness(t, mock, t.TempDir(), 10)
	res, err := h.driver.Run(context.Background(), runKey, states("CA", "TX"))
	if !errors.Is(err, auth.ErrAuth) {
		t.Fatalf("Run() error = %v, want ErrAuth", err)
	}
	if res.Status != RunAborted {
		t.Errorf("Status = %s, want %s", res.Status, RunAborted)
	}
	if len(h.store.saves) != 0 {
		t.Errorf("saves = %d, want 0", len(h.store.saves))
	}
}

func TestRun_Cancelled(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newHarness(t, mock, t.TempDir(), 10).driver.Run(ctx, runKey, states("CA"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if res.Status != RunAborted {
		t.Errorf("Status = %s, want %s", res.Status, RunAborted)
	}
}

func TestRun_InvalidPartitions(t *testing.T) {
	mock := testutil.NewMockPetfinder()
	defer mock.Close()

	h := newHarness(t, mock, t.TempDir(), 10)
	if _, err := h.driver.Run(context.Background(), runKey, states("CA", "CA")); err == nil {
		t.Error("Run() with duplicate partitions: error = nil")
	}
	if _, err := h.driver.Run(context.Background(), runKey, []partition.Partition{{ID: "X"}}); err == nil {
		t.Error("Run() with an empty partition: error = nil")
	}
}
