package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/osm-geocoder/internal/batch"
	"github.com/sells-group/osm-geocoder/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		ErrorRateThreshold: 0.10,
		MissRateThreshold:  0.50,
		MinRecords:         5,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(batch.Summary{RunID: "r1", Total: 100, Geocoded: 80, Failed: 15, Errors: 5})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ErrorRate(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(batch.Summary{RunID: "r1", Total: 20, Geocoded: 12, Errors: 8})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertErrorRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
	assert.Contains(t, alerts[0].Message, "run r1")
}

func TestAlerter_Evaluate_MissRate(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(batch.Summary{RunID: "r1", Total: 10, Geocoded: 3, Failed: 7})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMissRate, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
}

func TestAlerter_Evaluate_RunHalted(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(batch.Summary{RunID: "r1", Total: 10, Geocoded: 2, Skipped: 8})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunHalted, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "8 of 10")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(batch.Summary{Total: 30, Geocoded: 1, Failed: 12, Errors: 7, Skipped: 10})
	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.Len(t, alerts, 3)
	assert.True(t, types[AlertErrorRate])
	assert.True(t, types[AlertMissRate])
	assert.True(t, types[AlertRunHalted])
}

func TestAlerter_Evaluate_MinimumRecordsRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	// Only 3 attempted records, below the minimum for rate alerts.
	alerts := a.Evaluate(batch.Summary{Total: 3, Geocoded: 1, Errors: 2})
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroThresholdsDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(batch.Summary{Total: 10, Failed: 5, Errors: 5})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertErrorRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertRunHalted, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertErrorRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
