package purgedaemon

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
	"github.com/edgecomet/banpurge/internal/common/httputil"
	"github.com/edgecomet/banpurge/internal/common/redis"
	"github.com/edgecomet/banpurge/internal/purge/banexpr"
	"github.com/edgecomet/banpurge/internal/purge/dispatch"
	"github.com/edgecomet/banpurge/internal/purge/invalidation"
	"github.com/edgecomet/banpurge/internal/purge/purger"
	"github.com/edgecomet/banpurge/internal/purge/request"
	"github.com/edgecomet/banpurge/pkg/types"
)

const testAuthKey = "test-internal-key"

type sent struct {
	expr  banexpr.Expression
	items int
}

// fakeSender succeeds unless fail is set; onSend runs before states are set
type fakeSender struct {
	mu     sync.Mutex
	sent   []sent
	fail   bool
	onSend func()
}

func (f *fakeSender) Send(_ context.Context, req *request.Request, expr banexpr.Expression, targets ...invalidation.Invalidation) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{expr: expr, items: len(targets)})
	fail, onSend := f.fail, f.onSend
	f.mu.Unlock()

	if onSend != nil {
		onSend()
	}

	state := invalidation.StateSucceeded
	var err error
	if fail {
		state = invalidation.StateFailed
		err = &dispatch.DispatchError{Kind: dispatch.RemoteError, URI: req.URI, StatusCode: 503}
	}
	for _, inv := range targets {
		inv.SetState(state)
	}
	return err
}

func (f *fakeSender) requests() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func newTestDaemon(t *testing.T, mutate func(cfg *configtypes.PurgeDaemonConfig), sender purger.Sender) (*PurgeDaemon, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &configtypes.PurgeDaemonConfig{
		DaemonID: "purge-test",
		Redis:    configtypes.RedisConfig{Addr: mr.Addr()},
		Purger:   configtypes.PurgerConfig{SiteName: "www.example.com"},
		Scheduler: configtypes.PurgeDaemonScheduler{
			TickInterval:     types.Duration(50 * time.Millisecond),
			MaxParallelTypes: 2,
		},
		Queue: configtypes.PurgeDaemonQueue{
			MaxAttempts:    3,
			RetryBaseDelay: types.Duration(5 * time.Second),
			MaxRetryDelay:  types.Duration(10 * time.Minute),
			RecordTTL:      types.Duration(time.Hour),
		},
		HTTPApi: configtypes.PurgeDaemonHTTPApi{
			Enabled:             true,
			Listen:              ":10190",
			AuthKey:             testAuthKey,
			RequestTimeout:      types.Duration(5 * time.Second),
			MaxExpressions:      10,
			SchedulerControlAPI: true,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.Purger.ApplyDefaults()

	redisClient, err := redis.NewClient(&cfg.Redis, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = redisClient.Close() })

	d, err := NewPurgeDaemon(cfg, redisClient, zap.NewNop(), purger.WithSender(sender))
	require.NoError(t, err)
	return d, mr
}

func call(t *testing.T, d *PurgeDaemon, method, uri, body string, auth bool) (int, httputil.APIResponse) {
	t.Helper()
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(uri)
	if auth {
		ctx.Request.Header.Set(authHeader, testAuthKey)
	}
	if body != "" {
		ctx.Request.SetBodyString(body)
	}

	d.ServeHTTP(ctx)

	var resp httputil.APIResponse
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
	return ctx.Response.StatusCode(), resp
}

func enqueue(t *testing.T, d *PurgeDaemon, typ string, expressions ...string) []string {
	t.Helper()
	ids, err := d.Queue().Enqueue(context.Background(), invalidation.Type(typ), expressions)
	require.NoError(t, err)
	return ids
}

func record(t *testing.T, d *PurgeDaemon, id string) *types.InvalidationRecord {
	t.Helper()
	rec, err := d.Queue().Get(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func depth(t *testing.T, d *PurgeDaemon, typ invalidation.Type) (int64, int64) {
	t.Helper()
	total, due, err := d.Queue().Depth(context.Background(), typ)
	require.NoError(t, err)
	return total, due
}

func TestNewPurgeDaemon_Errors(t *testing.T) {
	_, err := NewPurgeDaemon(nil, nil, zap.NewNop())
	assert.ErrorContains(t, err, "daemon config is required")

	_, err = NewPurgeDaemon(&configtypes.PurgeDaemonConfig{}, nil, zap.NewNop())
	assert.ErrorContains(t, err, "redis client is required")
}

func TestQueue_EnqueueAndGet(t *testing.T) {
	d, mr := newTestDaemon(t, nil, &fakeSender{})

	ids := enqueue(t, d, "tag", "node:1", "node:2")
	require.Len(t, ids, 2)

	rec := record(t, d, ids[0])
	assert.Equal(t, "tag", rec.Type)
	assert.Equal(t, "node:1", rec.Expression)
	assert.Equal(t, "NEW", rec.State)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, time.Hour, mr.TTL("purge:inv:"+ids[0]))

	total, due := depth(t, d, invalidation.TypeTag)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(2), due)

	_, err := d.Queue().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_ClaimDropsExpiredRecords(t *testing.T) {
	d, mr := newTestDaemon(t, nil, &fakeSender{})

	ids := enqueue(t, d, "url", "http://a/1", "http://a/2")
	mr.Del("purge:inv:" + ids[0])

	entries, err := d.Queue().Claim(context.Background(), invalidation.TypeURL, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ids[1], entries[0].ID())
	assert.Equal(t, invalidation.StateNew, entries[0].State())

	total, _ := depth(t, d, invalidation.TypeURL)
	assert.Equal(t, int64(0), total)
}

func TestQueue_ClaimReturnsUnreadableToQueue(t *testing.T) {
	d, mr := newTestDaemon(t, nil, &fakeSender{})

	ids := enqueue(t, d, "url", "http://a/1", "http://a/2", "http://a/3")
	key := "purge:queue:url"
	scores := make(map[string]float64, len(ids))
	for _, id := range ids {
		score, err := mr.ZScore(key, id)
		require.NoError(t, err)
		scores[id] = score
	}

	// a string under the record key makes HGETALL fail with WRONGTYPE
	broken := ids[1]
	mr.Del("purge:inv:" + broken)
	require.NoError(t, mr.Set("purge:inv:"+broken, "corrupt"))

	entries, err := d.Queue().Claim(context.Background(), invalidation.TypeURL, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), broken)

	loaded := make(map[string]bool)
	for _, e := range entries {
		loaded[e.ID()] = true
	}
	assert.False(t, loaded[broken])

	queued, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.Contains(t, queued, broken)
	assert.Len(t, queued, len(ids)-len(entries), "every id is either loaded or queued")
	for _, id := range queued {
		assert.False(t, loaded[id])
		score, err := mr.ZScore(key, id)
		require.NoError(t, err)
		assert.Equal(t, scores[id], score, "id %s keeps its due time", id)
	}
}

func TestProcessTick_ClaimErrorKeepsQueue(t *testing.T) {
	sender := &fakeSender{}
	d, mr := newTestDaemon(t, nil, sender)

	ids := enqueue(t, d, "path", "/a")
	mr.Del("purge:inv:" + ids[0])
	require.NoError(t, mr.Set("purge:inv:"+ids[0], "corrupt"))

	assert.Equal(t, 0, d.ProcessTick(context.Background()))
	assert.Empty(t, sender.requests())

	total, due := depth(t, d, invalidation.TypePath)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), due)
}

func TestProcessTick_Succeeds(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDaemon(t, nil, sender)

	tagIDs := enqueue(t, d, "tag", "node:1", "node:2", "config:system.site")
	urlIDs := enqueue(t, d, "url", "https://www.example.com/news")

	assert.Equal(t, 4, d.ProcessTick(context.Background()))

	// Tags go out as one bundled request, the URL as its own
	requests := sender.requests()
	require.Len(t, requests, 2)

	for _, id := range append(tagIDs, urlIDs...) {
		rec := record(t, d, id)
		assert.Equal(t, "SUCCEEDED", rec.State, id)
		assert.Equal(t, 1, rec.Attempts)
		assert.Empty(t, rec.LastError)
	}

	total, _ := depth(t, d, invalidation.TypeTag)
	assert.Equal(t, int64(0), total)

	families, err := d.metricsCollector.Gatherer().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "banpurge_purge_invalidations_total")
	assert.Contains(t, names, "banpurge_purge_queue_depth")
}

func TestProcessTick_HonoursIdealConditionsLimit(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.Purger.MaxRequests = 2
		cfg.Purger.BundleTags = new(bool)
	}, sender)

	enqueue(t, d, "tag", "a", "b", "c")

	assert.Equal(t, 2, d.ProcessTick(context.Background()))
	total, _ := depth(t, d, invalidation.TypeTag)
	assert.Equal(t, int64(1), total)

	assert.Equal(t, 1, d.ProcessTick(context.Background()))
	assert.Len(t, sender.requests(), 3)
}

func TestProcessTick_FailureBacksOff(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{fail: true})

	ids := enqueue(t, d, "path", "/news")
	d.ProcessTick(context.Background())

	rec := record(t, d, ids[0])
	assert.Equal(t, "FAILED", rec.State)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "ban request failed", rec.LastError)

	total, due := depth(t, d, invalidation.TypePath)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(0), due, "retry is scheduled in the future")

	assert.Equal(t, 0, d.ProcessTick(context.Background()))
}

func TestProcessTick_StopsAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{fail: true}
	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.Queue.MaxAttempts = 2
		cfg.Queue.RetryBaseDelay = 0
	}, sender)

	ids := enqueue(t, d, "domain", "www.example.com")

	assert.Equal(t, 1, d.ProcessTick(context.Background()))
	assert.Equal(t, 1, d.ProcessTick(context.Background()))
	assert.Equal(t, 0, d.ProcessTick(context.Background()))

	rec := record(t, d, ids[0])
	assert.Equal(t, "FAILED", rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Len(t, sender.requests(), 2)
}

func TestProcessTick_CancelledRequeuesWithoutAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &fakeSender{onSend: cancel}
	d, _ := newTestDaemon(t, nil, sender)

	ids := enqueue(t, d, "url", "https://www.example.com/a", "https://www.example.com/b")
	d.ProcessTick(ctx)

	require.Len(t, sender.requests(), 1)

	first := record(t, d, ids[0])
	assert.Equal(t, "SUCCEEDED", first.State)

	second := record(t, d, ids[1])
	assert.Equal(t, "NEW", second.State)
	assert.Equal(t, 0, second.Attempts)

	total, due := depth(t, d, invalidation.TypeURL)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, int64(1), due)
}

func TestProcessTick_SetsCooldown(t *testing.T) {
	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.Purger.CooldownTime = types.Duration(2 * time.Second)
	}, &fakeSender{})

	enqueue(t, d, "everything", "")
	d.ProcessTick(context.Background())

	status := d.Status(context.Background())
	assert.NotEmpty(t, status.Capacity.CooldownUntil)
	assert.Equal(t, 2.0, status.Capacity.CooldownSeconds)
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		limit    time.Duration
		attempts int
		want     time.Duration
	}{
		{"first retry", 5 * time.Second, 10 * time.Minute, 1, 5 * time.Second},
		{"second retry", 5 * time.Second, 10 * time.Minute, 2, 10 * time.Second},
		{"third retry", 5 * time.Second, 10 * time.Minute, 3, 20 * time.Second},
		{"below limit", 5 * time.Second, 10 * time.Minute, 7, 320 * time.Second},
		{"reaches limit", 5 * time.Second, 10 * time.Minute, 8, 10 * time.Minute},
		{"attempt 30", 5 * time.Second, 10 * time.Minute, 30, 10 * time.Minute},
		{"attempt 32", 5 * time.Second, 10 * time.Minute, 32, 10 * time.Minute},
		{"attempt 64", 5 * time.Second, 10 * time.Minute, 64, 10 * time.Minute},
		{"attempt 1000", 5 * time.Second, 10 * time.Minute, 1000, 10 * time.Minute},
		{"no limit saturates", 5 * time.Second, 0, 100, time.Duration(math.MaxInt64)},
		{"zero base", 0, 10 * time.Minute, 50, 0},
		{"zero attempts", 5 * time.Second, 10 * time.Minute, 0, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
				cfg.Queue.RetryBaseDelay = types.Duration(tt.base)
				cfg.Queue.MaxRetryDelay = types.Duration(tt.limit)
			}, &fakeSender{})

			got := d.retryDelay(tt.attempts)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, time.Duration(0))
		})
	}
}

func TestRun_ProcessesQueue(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{})
	require.NoError(t, d.Start(context.Background()))

	ids := enqueue(t, d, "wildcardpath", "/news/*")

	require.Eventually(t, func() bool {
		rec, err := d.Queue().Get(context.Background(), ids[0])
		return err == nil && rec.State == "SUCCEEDED"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, d.Shutdown())
	assert.NotEmpty(t, d.Status(context.Background()).Daemon.LastTick)
}

func TestRun_PausedSkipsProcessing(t *testing.T) {
	sender := &fakeSender{}
	d, _ := newTestDaemon(t, nil, sender)
	d.PauseScheduler()
	require.NoError(t, d.Start(context.Background()))

	enqueue(t, d, "tag", "node:1")
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, sender.requests())

	d.ResumeScheduler()
	require.Eventually(t, func() bool { return len(sender.requests()) == 1 }, 2*time.Second, 20*time.Millisecond)
	require.NoError(t, d.Shutdown())
}

func TestAPI_Auth(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{})

	status, resp := call(t, d, "GET", "/status", "", false)
	assert.Equal(t, fasthttp.StatusUnauthorized, status)
	assert.False(t, resp.Success)

	status, _ = call(t, d, "GET", "/nowhere", "", true)
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestAPI_Invalidate(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantQueued int
		wantMsg    string
	}{
		{"tags", `{"type":"tag","expressions":["node:1","node:2"," "]}`, fasthttp.StatusAccepted, 2, ""},
		{"type case insensitive", `{"type":"URL","expressions":["https://www.example.com/"]}`, fasthttp.StatusAccepted, 1, ""},
		{"everything without expression", `{"type":"everything"}`, fasthttp.StatusAccepted, 1, ""},
		{"unknown type", `{"type":"bogus","expressions":["x"]}`, fasthttp.StatusBadRequest, 0, "unsupported invalidation type"},
		{"unsupported type", `{"type":"regex","expressions":["x"]}`, fasthttp.StatusBadRequest, 0, "does not support"},
		{"empty expressions", `{"type":"tag","expressions":[]}`, fasthttp.StatusBadRequest, 0, "cannot be empty"},
		{"too many", `{"type":"tag","expressions":["1","2","3","4","5","6","7","8","9","10","11"]}`, fasthttp.StatusBadRequest, 0, "cannot exceed 10"},
		{"all invalid", `{"type":"path","expressions":[""]}`, fasthttp.StatusBadRequest, 0, "no valid expressions"},
		{"bad json", `{"type":`, fasthttp.StatusBadRequest, 0, "invalid json"},
		{"no body", ``, fasthttp.StatusBadRequest, 0, "request body is empty"},
	}

	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.Purger.Types = []string{"tag", "url", "path", "everything"}
	}, &fakeSender{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := call(t, d, "POST", "/internal/purge/invalidate", tt.body, true)
			assert.Equal(t, tt.wantStatus, status)
			if tt.wantMsg != "" {
				assert.Contains(t, resp.Message, tt.wantMsg)
			}
			if tt.wantStatus != fasthttp.StatusAccepted {
				return
			}

			raw, err := json.Marshal(resp.Data)
			require.NoError(t, err)
			var data types.InvalidateAPIData
			require.NoError(t, json.Unmarshal(raw, &data))
			assert.Equal(t, tt.wantQueued, data.Queued)
			assert.Len(t, data.IDs, tt.wantQueued)
		})
	}
}

func TestAPI_InvalidateReportsRejected(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{})

	status, resp := call(t, d, "POST", "/internal/purge/invalidate", `{"type":"tag","expressions":["node:1",""]}`, true)
	require.Equal(t, fasthttp.StatusAccepted, status)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, []interface{}{""}, data["rejected"])

	id := data["ids"].([]interface{})[0].(string)
	status, resp = call(t, d, "GET", "/internal/purge/invalidation?id="+id, "", true)
	require.Equal(t, fasthttp.StatusOK, status)
	assert.Equal(t, "node:1", resp.Data.(map[string]interface{})["expression"])
}

func TestAPI_InvalidationLookup(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{})

	status, _ := call(t, d, "GET", "/internal/purge/invalidation", "", true)
	assert.Equal(t, fasthttp.StatusBadRequest, status)

	status, resp := call(t, d, "GET", "/internal/purge/invalidation?id=unknown", "", true)
	assert.Equal(t, fasthttp.StatusNotFound, status)
	assert.Contains(t, resp.Message, "not found")
}

func TestAPI_Status(t *testing.T) {
	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.Purger.Name = "edge-varnish"
		cfg.Purger.Types = []string{"tag", "url"}
	}, &fakeSender{})
	enqueue(t, d, "tag", "a", "b")

	status, resp := call(t, d, "GET", "/status", "", true)
	require.Equal(t, fasthttp.StatusOK, status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var s StatusResponse
	require.NoError(t, json.Unmarshal(raw, &s))

	assert.Equal(t, "purge-test", s.Daemon.DaemonID)
	assert.True(t, s.Daemon.RedisHealthy)
	assert.Equal(t, "edge-varnish", s.Purger.Label)
	assert.Equal(t, []string{"tag", "url"}, s.Purger.Types)
	assert.Equal(t, QueueStatus{Total: 2, DueNow: 2}, s.Queues["tag"])
	assert.Equal(t, configtypes.DefaultMaxRequests, s.Capacity.IdealConditionsLimit)
	assert.InDelta(t, 2.0, s.Capacity.TimeHintSeconds, 1e-9)
}

func TestAPI_StatusReportsRedisDown(t *testing.T) {
	d, mr := newTestDaemon(t, nil, &fakeSender{})
	mr.Close()

	status, resp := call(t, d, "GET", "/status", "", true)
	require.Equal(t, fasthttp.StatusOK, status)

	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var s StatusResponse
	require.NoError(t, json.Unmarshal(raw, &s))

	assert.False(t, s.Daemon.RedisHealthy)
	assert.Equal(t, "purge-test", s.Daemon.DaemonID)
	assert.Empty(t, s.Queues)
}

func TestAPI_SchedulerControl(t *testing.T) {
	d, _ := newTestDaemon(t, nil, &fakeSender{})

	status, _ := call(t, d, "POST", "/internal/scheduler/pause", "", true)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.True(t, d.IsSchedulerPaused())

	status, _ = call(t, d, "POST", "/internal/scheduler/resume", "", true)
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.False(t, d.IsSchedulerPaused())

	disabled, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.HTTPApi.SchedulerControlAPI = false
	}, &fakeSender{})
	status, resp := call(t, disabled, "POST", "/internal/scheduler/pause", "", true)
	assert.Equal(t, fasthttp.StatusForbidden, status)
	assert.Equal(t, "Scheduler control API not enabled", resp.Message)
}

func TestAPI_EmptyAuthKeyRejectsEverything(t *testing.T) {
	d, _ := newTestDaemon(t, func(cfg *configtypes.PurgeDaemonConfig) {
		cfg.HTTPApi.AuthKey = ""
	}, &fakeSender{})

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/status")
	d.ServeHTTP(ctx)
	assert.Equal(t, fasthttp.StatusUnauthorized, ctx.Response.StatusCode())
}
