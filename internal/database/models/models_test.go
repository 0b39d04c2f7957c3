package models

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidence_Order(t *testing.T) {
	assert.Equal(t, 1, ConfidenceHigh.Compare(ConfidenceMedium))
	assert.Equal(t, 1, ConfidenceMedium.Compare(ConfidenceLow))
	assert.Equal(t, -1, ConfidenceLow.Compare(ConfidenceHigh))
	assert.Equal(t, 0, ConfidenceMedium.Compare(ConfidenceMedium))

	levels := []Confidence{ConfidenceLow, ConfidenceHigh, ConfidenceMedium}
	slices.SortFunc(levels, func(a, b Confidence) int { return b.Compare(a) })
	assert.Equal(t, []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow}, levels)
}

func TestConfidence_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		C Confidence `json:"c"`
	}{ConfidenceHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"high"}`, string(data))

	var out struct {
		C Confidence `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"c":"Medium"}`), &out))
	assert.Equal(t, ConfidenceMedium, out.C)

	assert.Error(t, json.Unmarshal([]byte(`{"c":"certain"}`), &out))
}

func TestConfidence_ScanValue(t *testing.T) {
	v, err := ConfidenceLow.Value()
	require.NoError(t, err)
	assert.Equal(t, "low", v)

	var c Confidence
	require.NoError(t, c.Scan([]byte("high")))
	assert.Equal(t, ConfidenceHigh, c)

	require.NoError(t, c.Scan(nil))
	assert.Equal(t, ConfidenceUnknown, c)

	assert.Error(t, c.Scan(42))
}

func TestCloudAccount_Authorizes(t *testing.T) {
	a := CloudAccount{AuthorizedRegions: []string{"us-east-1", "us-west-2"}}
	assert.True(t, a.Authorizes("us-west-2"))
	assert.False(t, a.Authorizes("eu-west-1"))
}

func TestScanStepStatus_Terminal(t *testing.T) {
	assert.False(t, ScanStepStatusPending.Terminal())
	assert.False(t, ScanStepStatusRunning.Terminal())
	assert.True(t, ScanStepStatusCompleted.Terminal())
	assert.True(t, ScanStepStatusFailed.Terminal())
}

func TestUser_CanRemediate(t *testing.T) {
	assert.True(t, (&User{Role: RoleOwner}).CanRemediate())
	assert.True(t, (&User{Role: RoleAdmin}).CanRemediate())
	assert.False(t, (&User{Role: RoleMember}).CanRemediate())
}

func TestConfidenceOrderExpr(t *testing.T) {
	assert.Equal(t,
		"CASE confidence WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END",
		ConfidenceOrderExpr("confidence"))
}
