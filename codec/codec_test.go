package codec

import (
	"testing"

	"gotest.tools/v3/assert"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestEncodeDecode(t *testing.T) {
	bz, err := Encode(sample{Name: "epoch-0", Count: 12})
	assert.NilError(t, err)

	got, err := Decode[sample](bz)
	assert.NilError(t, err)
	assert.Equal(t, "epoch-0", got.Name)
	assert.Equal(t, 12, got.Count)
}

func TestDecodeBadPayload(t *testing.T) {
	_, err := Decode[sample]([]byte("{not json"))
	assert.Check(t, err != nil)
}

func TestCompressRoundTrip(t *testing.T) {
	in := []byte(`{"gold":100,"position":"12,7"}`)
	packed, err := Compress(in)
	assert.NilError(t, err)

	out, err := Decompress(packed)
	assert.NilError(t, err)
	assert.DeepEqual(t, in, out)
}

func TestCompressIsDeterministic(t *testing.T) {
	in := []byte(`{"state":"snapshot"}`)
	a, err := Compress(in)
	assert.NilError(t, err)
	b, err := Compress(in)
	assert.NilError(t, err)
	assert.DeepEqual(t, a, b)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := Decompress([]byte("definitely not gzip"))
	assert.Check(t, err != nil)
}
