package jsonutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite(t *testing.T) {
	rec := httptest.NewRecorder()

	err := Write(rec, 201, map[string]string{"name": "Warehouse"})
	require.NoError(t, err)

	assert.Equal(t, 201, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Warehouse", body["name"])
}

func TestWrite_DefaultsTo200(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, Write(rec, 200, []string{}))
	assert.Equal(t, 200, rec.Code)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	err := WriteError(rec, 404, "not_found", "data source not found")
	require.NoError(t, err)

	assert.Equal(t, 404, rec.Code)

	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body.Error)
	assert.Equal(t, "data source not found", body.Message)
}
