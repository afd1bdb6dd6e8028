package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractedField_SuccessAndFailure(t *testing.T) {
	ok := Extracted("h1", "Hello")
	assert.True(t, ok.Success())
	assert.False(t, ok.Failed())
	require.NotNil(t, ok.Value)
	assert.Equal(t, "Hello", *ok.Value)

	bad := ExtractionFailed(".missing", FieldErrNoMatch)
	assert.True(t, bad.Failed())
	assert.Nil(t, bad.Value)
}

func TestExtractedField_EmptyValueIsStillSuccess(t *testing.T) {
	f := Extracted("p", "")
	assert.True(t, f.Success())
}

func TestResultSet_MarshalPreservesOrder(t *testing.T) {
	rs := ResultSet{
		{Key: "zeta", Field: Extracted("h1", "Z")},
		{Key: "alpha", Field: ExtractionFailed(".x", FieldErrNoMatch)},
		{Key: "meta:description", Field: Extracted("description", `say "hi"`)},
	}

	out, err := json.Marshal(ExtractResponse{Success: true, Data: rs})
	require.NoError(t, err)
	assert.Equal(t,
		`{"success":true,"data":{"zeta":"Z","alpha":{"error":"selector matched no elements"},"meta:description":"say \"hi\""},"cached":false}`,
		string(out))
}

func TestResultSet_GetAndFailures(t *testing.T) {
	rs := ResultSet{
		{Key: "a", Field: Extracted("h1", "A")},
		{Key: "b", Field: ExtractionFailed("h2", FieldErrNoMatch)},
	}
	f, ok := rs.Get("b")
	assert.True(t, ok)
	assert.True(t, f.Failed())
	_, ok = rs.Get("c")
	assert.False(t, ok)
	assert.Equal(t, 1, rs.Failures())
}

func TestResultSet_EmptyMarshalsAsObject(t *testing.T) {
	out, err := json.Marshal(ResultSet{})
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}
