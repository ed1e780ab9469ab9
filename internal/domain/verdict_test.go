package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerVerdict_Resolve(t *testing.T) {
	var missing *LayerVerdict
	assert.Equal(t, StateSafe, missing.Resolve())
	assert.Equal(t, StateSafe, (&LayerVerdict{}).Resolve())
	assert.Equal(t, StateSafe, (&LayerVerdict{Status: "Danger"}).Resolve())
	assert.Equal(t, StateSafe, (&LayerVerdict{Status: "scanning"}).Resolve())
	assert.Equal(t, StateDanger, (&LayerVerdict{Status: "danger"}).Resolve())
}

func TestThreatAnalysis_Summary(t *testing.T) {
	ta := &ThreatAnalysis{ThreatScore: 72, MaxScore: 100, Percentage: 72, Confidence: "HIGH"}
	assert.Equal(t, "Threat Score: 72/100 (72%) - HIGH confidence", ta.Summary())
	assert.Equal(t, "high", ta.Severity())

	// Процент считается, если шлюз его не прислал
	ta = &ThreatAnalysis{ThreatScore: 30, MaxScore: 120, Confidence: "MEDIUM"}
	assert.Equal(t, "Threat Score: 30/120 (25%) - MEDIUM confidence", ta.Summary())
	assert.Equal(t, "medium", ta.Severity())

	assert.Equal(t, "low", (&ThreatAnalysis{ThreatScore: 29}).Severity())
}

func TestPromptRecord_FlexibleTimestamp(t *testing.T) {
	var recs []PromptRecord
	err := json.Unmarshal([]byte(`[
		{"id":1,"timestamp":"2026-02-03T04:05:06Z"},
		{"id":2,"timestamp":1767225600000},
		{"id":3,"timestamp":null},
		{"id":4}
	]`), &recs)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC), recs[0].Timestamp.UTC())
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), recs[1].Timestamp.Time)
	assert.True(t, recs[2].Timestamp.IsZero())
	assert.True(t, recs[3].Timestamp.IsZero())

	// Нераспознанный формат не роняет запись, время остается нулевым
	for _, raw := range []string{
		`{"id":5,"timestamp":"yesterday"}`,
		`{"id":5,"timestamp":"2026-01-01 10:00:00"}`,
		`{"id":5,"timestamp":{"sec":1}}`,
	} {
		var rec PromptRecord
		require.NoError(t, json.Unmarshal([]byte(raw), &rec), raw)
		assert.Equal(t, int64(5), rec.ID)
		assert.True(t, rec.Timestamp.IsZero(), raw)
	}
}

func TestLayerMap_MalformedEntriesResolveSafe(t *testing.T) {
	var resp AnalyzeResponse
	require.NoError(t, json.Unmarshal([]byte(`{
		"result": "SAFE",
		"layers": {
			"RITD": {"status":"danger","reason":"Role inversion"},
			"NCD":  null,
			"LDF":  "n/a",
			"XYZ":  {"status": 7}
		}
	}`), &resp))

	require.Len(t, resp.Layers, 4)
	assert.Equal(t, StateDanger, resp.Layers[LayerRITD].Resolve())
	assert.Equal(t, "Role inversion", resp.Layers[LayerRITD].Reason)
	assert.Nil(t, resp.Layers[LayerNCD])
	assert.Nil(t, resp.Layers[LayerLDF])
	assert.Equal(t, StateSafe, resp.Layers[LayerLDF].Resolve())
	assert.Nil(t, resp.Layers["XYZ"])
}

func TestLayerMap_NotAnObject(t *testing.T) {
	for _, raw := range []string{`{"layers":"oops"}`, `{"layers":[1,2]}`, `{"layers":null}`} {
		var rec PromptRecord
		require.NoError(t, json.Unmarshal([]byte(raw), &rec), raw)
		assert.Nil(t, rec.Layers, raw)
		assert.Equal(t, StateSafe, rec.Layers[LayerRITD].Resolve())
	}
}

func TestLayerMap_DecodesGatewayShape(t *testing.T) {
	var lm LayerMap
	require.NoError(t, json.Unmarshal([]byte(`{
		"RITD": {"status":"danger","reason":"Role inversion detected","hits":["you are now","ignore"]},
		"NCD":  {"status":"safe"}
	}`), &lm))

	assert.Equal(t, StateDanger, lm[LayerRITD].Resolve())
	assert.Len(t, lm[LayerRITD].Hits, 2)
	assert.Equal(t, StateSafe, lm[LayerLDF].Resolve())
}

func TestIdleLayers(t *testing.T) {
	m := IdleLayers()
	require.Len(t, m, len(PipelineOrder))
	for _, k := range PipelineOrder {
		assert.Equal(t, StateIdle, m[k])
	}
	assert.Equal(t, "Linguistic DNA Fingerprint", LayerLDF.Label())
}
