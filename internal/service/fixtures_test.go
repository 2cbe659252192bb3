package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"studylab/internal/config"
	"studylab/internal/db"
	"studylab/internal/events"
	"studylab/internal/llm"
	"studylab/internal/model"
	"studylab/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var taskIDPattern = regexp.MustCompile(`(?m)^\[([^\]]+)\] `)

// fakeProvider 记录并发度；默认对每个任务返回 label=<text> confidence=0.5
type fakeProvider struct {
	delay   time.Duration
	respond func(req llm.Request, text string, taskIDs []string) (string, error)
	// 非 nil 时每个请求阻塞到关闭或 ctx 结束
	gate chan struct{}

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu       sync.Mutex
	requests []llm.Request
}

func textOf(user string) string {
	s := strings.TrimPrefix(user, "Text to classify:\n")
	if i := strings.Index(s, "\n\nClassification tasks:"); i >= 0 {
		return s[:i]
	}
	return s
}

func taskIDsOf(user string) []string {
	var ids []string
	for _, m := range taskIDPattern.FindAllStringSubmatch(user, -1) {
		ids = append(ids, m[1])
	}
	return ids
}

func (p *fakeProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	p.calls.Add(1)
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		cur := p.maxInFlight.Load()
		if n <= cur || p.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	text := textOf(req.User)
	ids := taskIDsOf(req.User)
	if p.respond != nil {
		return p.respond(req, text, ids)
	}
	return okResponse(text, ids), nil
}

func okResponse(label string, ids []string) string {
	out := map[string]interface{}{}
	for _, id := range ids {
		out[id] = map[string]interface{}{"classification": label, "confidence": 0.5}
	}
	b, _ := json.Marshal(out)
	return string(b)
}

type harness struct {
	t       *testing.T
	cfg     *config.Config
	svc     *ServiceContext
	store   *storage.LocalStore
	prov    *fakeProvider
	provErr error
}

type harnessOption func(*config.Config)

func withConcurrency(n int) harnessOption {
	return func(c *config.Config) { c.Engine.Concurrency = n }
}

func withClearOnRerun(v bool) harnessOption {
	return func(c *config.Config) { c.Engine.ClearPriorResultsOnRerun = &v }
}

func newHarness(t *testing.T, prov *fakeProvider, opts ...harnessOption) *harness {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", Path: ":memory:", LogLevel: "silent"},
		Engine:   config.EngineConfig{Concurrency: 5, StaleAfter: time.Minute},
	}
	for _, o := range opts {
		o(cfg)
	}

	gdb, err := db.Open(cfg.Database, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	h := &harness{t: t, cfg: cfg, store: store, prov: prov}
	h.svc = NewServiceContextWith(cfg, gdb, store, func(name string) (llm.Provider, error) {
		if h.provErr != nil {
			return nil, h.provErr
		}
		return h.prov, nil
	}, zap.NewNop())

	t.Cleanup(func() {
		if h.prov != nil && h.prov.gate != nil {
			select {
			case <-h.prov.gate:
			default:
				close(h.prov.gate)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.svc.Close(ctx))
		sqlDB, err := gdb.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())
	})
	return h
}

// csvRows 生成 n 行：id=r<i>，text 足够长以被自动选为待分类文本
func csvRows(n int) string {
	var b strings.Builder
	b.WriteString("id,text,lang\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "r%d,row %d has a long enough text,en\n", i, i)
	}
	return b.String()
}

type seeded struct {
	dataset     *model.Dataset
	classifiers []*model.Classifier
	constraints []*model.Constraint
}

func (h *harness) seed(csv string) seeded {
	h.t.Helper()
	ctx := context.Background()
	cat := h.svc.Catalog

	ds, err := cat.UploadDataset(ctx, "u1", "posts", "posts.csv", []byte(csv))
	require.NoError(h.t, err)

	c1, err := cat.CreateClassifier(ctx, "u1", ClassifierInput{Name: "Sentiment", Prompt: "What is the sentiment?"})
	require.NoError(h.t, err)
	c2, err := cat.CreateClassifier(ctx, "u1", ClassifierInput{Name: "Topic", Prompt: "What is the topic?"})
	require.NoError(h.t, err)

	k1, err := cat.CreateConstraint(ctx, "u1", ConstraintInput{Name: "A", Rules: "Rule A."})
	require.NoError(h.t, err)
	k2, err := cat.CreateConstraint(ctx, "u1", ConstraintInput{Name: "B", Rules: "Rule B."})
	require.NoError(h.t, err)

	return seeded{dataset: ds, classifiers: []*model.Classifier{c1, c2}, constraints: []*model.Constraint{k1, k2}}
}

func (h *harness) createStudy(s seeded, sampleSize int) *model.Study {
	h.t.Helper()
	autoStart := false
	study, err := h.svc.Studies.Create(context.Background(), "u1", CreateStudyInput{
		DatasetID:     s.dataset.ID,
		ClassifierIDs: []string{s.classifiers[0].ID, s.classifiers[1].ID},
		ConstraintIDs: []string{s.constraints[0].ID, s.constraints[1].ID},
		ModelProvider: "openai",
		ModelName:     "gpt-4o-mini",
		SampleSize:    sampleSize,
		AutoStart:     &autoStart,
	})
	require.NoError(h.t, err)
	return study
}

// runToEnd 订阅后启动，收集事件直到终态
func (h *harness) runToEnd(studyID string) []events.Event {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsubscribe := h.svc.Engine.Subscribe(ctx, studyID)
	defer unsubscribe()

	_, err := h.svc.Engine.StartRun(context.Background(), studyID)
	require.NoError(h.t, err)
	got := collect(h.t, ch)
	h.waitIdle(studyID)
	return got
}

func collect(t *testing.T, ch <-chan events.Event) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, e)
			if e.Terminal() {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out; events so far: %d", len(got))
			return got
		}
	}
}

// waitIdle 等待后台运行释放槽位
func (h *harness) waitIdle(studyID string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return !h.svc.Engine.IsActive(studyID) }, 5*time.Second, 5*time.Millisecond)
}
