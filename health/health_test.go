package health

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker struct {
	status Status
}

func (s staticChecker) Health() Status { return s.status }

func TestMonitorAggregation(t *testing.T) {
	m := NewMonitor("mapper")
	assert.True(t, m.Check().Healthy, "no checkers means healthy")

	m.RegisterChecker(staticChecker{Healthy("detector-mapper")})
	status := m.Check()
	assert.True(t, status.Healthy)
	assert.Equal(t, "healthy", status.Status)
	assert.Len(t, status.SubStatuses, 1)

	m.RegisterChecker(staticChecker{Degraded("nats", "reconnecting")})
	status = m.Check()
	assert.True(t, status.Healthy)
	assert.Equal(t, "degraded", status.Status)

	m.RegisterChecker(staticChecker{Unhealthy("source", "backend down")})
	status = m.Check()
	assert.False(t, status.Healthy)
	assert.Equal(t, "unhealthy", status.Status)
}

func TestHandler(t *testing.T) {
	m := NewMonitor("mapper")
	m.RegisterChecker(staticChecker{Healthy("detector-mapper")})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	assert.Equal(t, 200, rec.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "mapper", status.Component)
}

func TestHandlerUnhealthyReturns503(t *testing.T) {
	m := NewMonitor("mapper")
	m.RegisterChecker(staticChecker{Unhealthy("source", "backend down")})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 503, rec.Code)
}
