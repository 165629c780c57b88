package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/vpn_access_server/internal/pkg/cron"
	"github.com/qs3c/vpn_access_server/internal/pkg/keylock"
	"github.com/qs3c/vpn_access_server/internal/pkg/metrics"
	"github.com/qs3c/vpn_access_server/internal/pkg/response"
	"github.com/qs3c/vpn_access_server/internal/repository"
	"github.com/qs3c/vpn_access_server/internal/service"
	"github.com/qs3c/vpn_access_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	DB       *gorm.DB
	Access   *testutil.FakeAccess
	Notifier *testutil.FakeNotifier
}

func fixedNow() time.Time { return testutil.BaseTime }

func setupHandlers(t *testing.T) (*SubscriptionHandler, *SweepHandler, *testContext) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	repo := repository.NewSubscriberRepository(db)
	access := testutil.NewFakeAccess()
	notifier := testutil.NewFakeNotifier()
	locker := keylock.NewLocal()
	period := service.NewBillingPeriod(720*time.Hour, 120)

	subs := service.NewSubscriptionService(repo, access, notifier, locker, period, metrics.NoopRecorder{}, zerolog.Nop())
	sweep := service.NewSweepService(repo, access, notifier, locker, 2, metrics.NoopRecorder{}, zerolog.Nop())
	scheduler, err := cron.NewService(sweep, "0 10 22 * * *", "UTC", zerolog.Nop())
	require.NoError(t, err)

	subHandler := NewSubscriptionHandler(subs, service.NewPlanCatalog(map[int]int64{1: 7000, 2: 14000}), zerolog.Nop())
	subHandler.now = fixedNow
	sweepHandler := NewSweepHandler(sweep, scheduler)
	sweepHandler.now = fixedNow

	return subHandler, sweepHandler, &testContext{DB: db, Access: access, Notifier: notifier}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return data
}
