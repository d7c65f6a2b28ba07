package testutils

import (
	"fmt"
	"testing"

	"github.com/srg/bleuart/internal/device"
	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func (r *recordingT) Helper() {}

func TestJSONAsserter_RecordsIgnoreUnlistedKeys(t *testing.T) {
	// GOAL: Verify catalog records match on the keys the expectation lists
	//
	// TEST SCENARIO: two records, expectation names only name/address → no failure
	rt := &recordingT{}
	records := []device.Record{
		device.NewRecord("Widget", "00:00:00:00:00:01", -40, device.CapLowEnergy),
		device.NewRecord("Sensor", "00:00:00:00:00:02", -70, device.CapLowEnergy),
	}

	NewJSONAsserter(rt).AssertRecords(records, `[
		{"name": "Widget", "address": "00:00:00:00:00:01"},
		{"name": "Sensor", "address": "00:00:00:00:00:02"}
	]`)

	assert.Empty(t, rt.failures, "unlisted keys MUST NOT fail the comparison")
}

func TestJSONAsserter_ReportsMismatch(t *testing.T) {
	// GOAL: Verify a changed value and a missing element are both reported
	//
	// TEST SCENARIO: wrong rssi → failure; expectation longer than actual → failure
	records := []device.Record{device.NewRecord("Widget", "00:00:00:00:00:01", -40, device.CapLowEnergy)}

	rt := &recordingT{}
	NewJSONAsserter(rt).AssertRecords(records, `[{"name": "Widget", "rssi": -50}]`)
	assert.Len(t, rt.failures, 1, "value mismatch MUST fail")
	assert.Contains(t, rt.failures[0], "JSON assertion failed")

	rt = &recordingT{}
	NewJSONAsserter(rt).AssertRecords(records, `[{"name": "Widget"}, {"name": "Sensor"}]`)
	assert.Len(t, rt.failures, 1, "missing record MUST fail")
}

func TestJSONAsserter_StrictKeys(t *testing.T) {
	// GOAL: Verify WithIgnoreExtraKeys(false) turns unlisted keys into failures
	//
	// TEST SCENARIO: actual carries low_energy, expectation does not → failure
	rt := &recordingT{}
	NewJSONAsserter(rt).WithOptions(WithIgnoreExtraKeys(false)).
		Assert(`{"name": "Widget", "low_energy": true}`, `{"name": "Widget"}`)

	assert.Len(t, rt.failures, 1)
}

func TestJSONAsserter_AnyValueAndIgnoredFields(t *testing.T) {
	// GOAL: Verify placeholders and ignored fields skip volatile values
	//
	// TEST SCENARIO: rssi varies per run → AnyValue matches; ignored "ts" removed on both sides
	rt := &recordingT{}
	NewJSONAsserter(rt).WithOptions(WithIgnoredFields("ts")).
		Assert(`{"name": "Widget", "rssi": -63, "ts": 17}`, `{"name": "Widget", "rssi": "<<ANY>>", "ts": 99}`)

	assert.Empty(t, rt.failures)
}

func TestJSONAsserter_SortByField(t *testing.T) {
	// GOAL: Verify discovery order can be ignored by sorting on a key
	//
	// TEST SCENARIO: Sensor discovered before Widget, expectation lists Widget first → match when sorted by address
	actual := `[{"name": "Sensor", "address": "00:00:00:00:00:02"}, {"name": "Widget", "address": "00:00:00:00:00:01"}]`
	expected := `[{"name": "Widget", "address": "00:00:00:00:00:01"}, {"name": "Sensor", "address": "00:00:00:00:00:02"}]`

	rt := &recordingT{}
	NewJSONAsserter(rt).Assert(actual, expected)
	assert.Len(t, rt.failures, 1, "order MUST matter by default")

	rt = &recordingT{}
	NewJSONAsserter(rt).WithOptions(WithSortByField("address")).Assert(actual, expected)
	assert.Empty(t, rt.failures)
}

func TestJSONAsserter_InvalidInput(t *testing.T) {
	rt := &recordingT{}
	NewJSONAsserter(rt).Assert(`{"name":`, `{}`)

	assert.Len(t, rt.failures, 1)
	assert.Contains(t, rt.failures[0], "invalid actual JSON")
}
