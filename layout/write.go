package layout

import (
	"github.com/encodeous/dirgen/state"
	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/zstd"
)

// writeDocument atomically replaces path with data, and path.zst with its
// zstd compression when compress is set.
func writeDocument(path string, data []byte, compress bool) error {
	err := renameio.WriteFile(path, data, 0644)
	if err != nil {
		return err
	}
	if !compress {
		return nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return err
	}
	defer enc.Close()
	return renameio.WriteFile(path+state.CompressedSuffix, enc.EncodeAll(data, nil), 0644)
}
