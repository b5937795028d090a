package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecords(t *testing.T) {
	out, err := DecodeRecords(nil)
	assert.NoError(t, err)
	assert.Empty(t, out)

	out, err = DecodeRecords([]byte(" "))
	assert.NoError(t, err)
	assert.Empty(t, out)

	_, err = DecodeRecords([]byte(`{"not":"an array"}`))
	assert.Error(t, err)

	out, err = DecodeRecords([]byte(`[{"doctorId":"d1","extra":{"a":1}},{"doctorId":42}]`))
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, 0, FindRecord(out, "doctorId", "d1"))
	assert.Equal(t, 1, FindRecord(out, "doctorId", "42"))
	assert.Equal(t, -1, FindRecord(out, "doctorId", "d2"))
	assert.Equal(t, -1, FindRecord(out, "petId", "d1"))
	assert.Equal(t, "", out[0].Text("extra"))
}

func TestRecordRoundTripKeepsUnknownFields(t *testing.T) {
	out, err := DecodeRecords([]byte(`[{"shopId":"s1","rating":4.5}]`))
	require.NoError(t, err)

	require.NoError(t, out[0].Put("shopName", "Bones & Co"))
	value, err := EncodeRecords(out)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"shopId":"s1","rating":4.5,"shopName":"Bones & Co"}]`, string(value))

	var name string
	require.NoError(t, out[0].Decode("shopName", &name))
	assert.Equal(t, "Bones & Co", name)

	var missing string
	assert.NoError(t, out[0].Decode("shopLogo", &missing))
	assert.Equal(t, "", missing)

	empty, err := EncodeRecords(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}
