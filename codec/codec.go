package codec

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

func Decode[T any](bz []byte) (T, error) {
	comp := new(T)
	err := json.Unmarshal(bz, comp)
	if err != nil {
		return *comp, eris.Wrap(err, "")
	}
	return *comp, nil
}

func Encode(comp any) ([]byte, error) {
	bz, err := json.Marshal(comp)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return bz, nil
}

// Compress gzips the given bytes. Epoch state snapshots are stored and handed
// between epochs in this form.
func Compress(bz []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(bz); err != nil {
		return nil, eris.Wrap(err, "")
	}
	if err := zw.Close(); err != nil {
		return nil, eris.Wrap(err, "")
	}
	return buf.Bytes(), nil
}

func Decompress(bz []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(bz))
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	if err := zr.Close(); err != nil {
		return nil, eris.Wrap(err, "")
	}
	return out, nil
}
