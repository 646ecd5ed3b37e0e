package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyConfidence(t *testing.T) {
	tests := []struct {
		confidence float64
		want       Level
	}{
		{1.0, LevelSuccess},
		{0.71, LevelSuccess},
		{0.7, LevelWarning},
		{0.41, LevelWarning},
		{0.4, LevelDanger},
		{0.0, LevelDanger},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyConfidence(tt.confidence), "ClassifyConfidence(%v)", tt.confidence)
	}
}

func TestConfidenceLevel_Absent(t *testing.T) {
	r := &DiagnosisRecord{}
	assert.Equal(t, Level(""), r.ConfidenceLevel())

	c := 0.9
	r.Confidence = &c
	assert.Equal(t, LevelSuccess, r.ConfidenceLevel())
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		active   bool
		terminal bool
		human    bool
	}{
		{StatusPending, true, false, false},
		{StatusRunning, true, false, false},
		{StatusPendingNext, true, false, false},
		{StatusPendingHuman, false, false, true},
		{StatusCompleted, false, true, false},
		{StatusFailed, false, true, false},
		{Status("unknown"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.status.IsActive())
			assert.Equal(t, tt.terminal, tt.status.IsTerminal())
			assert.Equal(t, tt.human, tt.status.AwaitingHuman())
		})
	}
}

func TestActions_UnmarshalArray(t *testing.T) {
	var it DiagnosisIteration
	err := json.Unmarshal([]byte(`{
		"iteration_no": 2,
		"action_result": [
			{"name": "collect_data", "details": {"logs": ["a"]}},
			{"name": "analyze", "details": {}}
		]
	}`), &it)
	require.NoError(t, err)

	require.Len(t, it.ActionResult, 2)
	assert.Equal(t, "collect_data", it.ActionResult[0].Name)
	assert.JSONEq(t, `["a"]`, string(it.ActionResult[0].Details["logs"]))
}

func TestActions_UnmarshalObjectKeyedByName(t *testing.T) {
	var it DiagnosisIteration
	err := json.Unmarshal([]byte(`{
		"iteration_no": 1,
		"action_result": {"collect_data": {"metrics": {"cpu": 0.9}}, "analyze": "skipped"}
	}`), &it)
	require.NoError(t, err)

	require.Len(t, it.ActionResult, 2)
	assert.Equal(t, "analyze", it.ActionResult[0].Name)
	assert.Nil(t, it.ActionResult[0].Details)
	assert.Equal(t, "collect_data", it.ActionResult[1].Name)
	assert.Contains(t, it.ActionResult[1].Details, "metrics")
}

func TestActions_UnmarshalGarbage(t *testing.T) {
	var it DiagnosisIteration
	err := json.Unmarshal([]byte(`{"iteration_no": 1, "action_result": "n/a"}`), &it)
	require.NoError(t, err)
	assert.Empty(t, it.ActionResult)
}

func TestLatestIteration(t *testing.T) {
	assert.Nil(t, LatestIteration(nil))

	iterations := []DiagnosisIteration{{IterationNo: 1}, {IterationNo: 3}, {IterationNo: 2}}
	latest := LatestIteration(iterations)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.IterationNo)

	sorted := SortIterations(iterations)
	assert.Equal(t, 3, sorted[0].IterationNo)
	assert.Equal(t, 1, sorted[2].IterationNo)
	assert.Equal(t, 1, iterations[0].IterationNo, "input must not be reordered")

	timeline := IterationTimeline(iterations)
	assert.Equal(t, []int{1, 2, 3}, []int{timeline[0].IterationNo, timeline[1].IterationNo, timeline[2].IterationNo})
	assert.Equal(t, 3, iterations[1].IterationNo)

	assert.True(t, HasIteration(iterations, 2))
	assert.False(t, HasIteration(iterations, 4))
}

func TestPage_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		count int
		total int
	}{
		{"bare array", `[{"id":1},{"id":2}]`, 2, 2},
		{"items", `{"items":[{"id":1}],"total":40}`, 1, 40},
		{"list", `{"list":[{"id":1},{"id":2},{"id":3}],"total":3}`, 3, 3},
		{"records without total", `{"records":[{"id":1}]}`, 1, 1},
		{"nested data", `{"data":[{"id":1}],"total":5}`, 1, 5},
		{"empty object", `{}`, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Page
			require.NoError(t, json.Unmarshal([]byte(tt.input), &p))
			assert.Len(t, p.Items, tt.count)
			assert.Equal(t, tt.total, p.Total)
		})
	}
}

func TestAnyActive(t *testing.T) {
	assert.False(t, AnyActive(nil))
	assert.False(t, AnyActive([]DiagnosisRecord{{Status: StatusCompleted}, {Status: StatusPendingHuman}}))
	assert.True(t, AnyActive([]DiagnosisRecord{{Status: StatusCompleted}, {Status: StatusPendingNext}}))
}

func TestFeedbackType(t *testing.T) {
	assert.True(t, FeedbackConfirmed.Valid())
	assert.False(t, FeedbackType("").Valid())
	assert.False(t, FeedbackConfirmed.RequiresNotes())
	assert.True(t, FeedbackContinueInvestigation.RequiresNotes())
	assert.True(t, FeedbackCustom.RequiresNotes())
}

func TestMemoryContentText(t *testing.T) {
	m := DiagnosisMemory{Content: json.RawMessage(`"plain note"`)}
	assert.Equal(t, "plain note", m.ContentText())

	m.Content = json.RawMessage(`{"k":"v"}`)
	assert.Equal(t, `{"k":"v"}`, m.ContentText())

	m.Content = nil
	assert.Empty(t, m.ContentText())
}

func TestRecordTarget(t *testing.T) {
	r := DiagnosisRecord{ResourceType: "deployment", ResourceName: "api", Namespace: "prod"}
	assert.Equal(t, "prod/deployment/api", r.Target())

	r.Namespace = ""
	assert.Equal(t, "deployment/api", r.Target())
}
