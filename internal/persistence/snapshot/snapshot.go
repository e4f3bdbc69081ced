package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

type Header struct {
	Version  int    `json:"version"`
	Category string `json:"category"`
	SavedAt  int64  `json:"saved_at_unix_ms"`
}

// CategoryV1 is one store category serialized to disk. The file is zstd
// framed: a JSON header line for quick inspection, then a gob body.
type CategoryV1 struct {
	Header  Header    `json:"header"`
	Entries []EntryV1 `json:"entries"`
}

type EntryV1 struct {
	Key       string            `json:"key"`
	Pos       [3]int            `json:"pos"`
	Data      map[string]string `json:"data,omitempty"`
	UpdatedAt int64             `json:"updated_at_unix_ms"`
}

func path(dir, category string) string {
	return filepath.Join(dir, category+".snap.zst")
}

func WriteCategory(dir string, snap CategoryV1) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path(dir, snap.Header.Category), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encodeCategory(f, snap); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// encodeCategory writes the zstd frame to w. Flush and close errors surface
// here so a full disk is never reported as a successful snapshot.
func encodeCategory(w io.Writer, snap CategoryV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode %s: %w", snap.Header.Category, err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadCategory loads one category snapshot. A missing file is an empty
// category, not an error.
func ReadCategory(dir, category string) (CategoryV1, error) {
	snap := CategoryV1{Header: Header{Version: 1, Category: category}}
	f, err := os.Open(path(dir, category))
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// Skip the header line; the gob body also carries it.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode %s: %w", category, err)
	}
	return snap, nil
}
