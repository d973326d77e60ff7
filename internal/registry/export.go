package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// Export record kinds, in the order they are written.
const (
	ExportKindHeader   = "header"
	ExportKindRunMeta  = "run_meta"
	ExportKindSummary  = "summary"
	ExportKindArtifact = "artifact"
	ExportKindMissing  = "missing_artifact"
)

// ExportSchemaVersion of the audit bundle.
const ExportSchemaVersion = 1

// ExportRecord is one JSONL line of an audit bundle.
type ExportRecord struct {
	Kind string          `json:"kind"`
	Name string          `json:"name,omitempty"`
	Path string          `json:"path,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ExportRun writes a zstd-compressed JSONL audit bundle of one run: its
// metadata, its history summary and every manifest artifact that still
// exists. Missing artifacts are listed, not fatal.
func (r *Registry) ExportRun(projectID, runID string, w io.Writer) error {
	meta, err := r.ReadRunMeta(projectID, runID)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	bw := bufio.NewWriter(enc)
	jw := json.NewEncoder(bw)

	write := func(rec ExportRecord) error {
		return jw.Encode(rec)
	}
	raw := func(v interface{}) json.RawMessage {
		data, _ := json.Marshal(v)
		return data
	}

	records := []ExportRecord{
		{Kind: ExportKindHeader, Data: raw(map[string]interface{}{
			"schema_version": ExportSchemaVersion,
			"project_id":     projectID,
			"run_id":         runID,
		})},
		{Kind: ExportKindRunMeta, Data: raw(meta)},
	}
	history, err := r.History(projectID)
	if err != nil {
		_ = enc.Close()
		return err
	}
	for _, s := range history {
		if s.RunID == runID {
			records = append(records, ExportRecord{Kind: ExportKindSummary, Data: raw(s)})
			break
		}
	}
	for _, a := range meta.ArtifactsManifest {
		data, err := os.ReadFile(a.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			records = append(records, ExportRecord{Kind: ExportKindMissing, Name: a.Name, Path: a.Path})
			continue
		case err != nil:
			_ = enc.Close()
			return fmt.Errorf("read artifact %s: %w", a.Name, err)
		}
		if !json.Valid(data) {
			data = raw(string(data))
		}
		records = append(records, ExportRecord{Kind: ExportKindArtifact, Name: a.Name, Path: a.Path, Data: data})
	}

	for _, rec := range records {
		if err := write(rec); err != nil {
			_ = enc.Close()
			return fmt.Errorf("write export record: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("flush export: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd encoder: %w", err)
	}
	return nil
}

// ReadExport decodes an audit bundle written by ExportRun.
func ReadExport(r io.Reader) ([]ExportRecord, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var records []ExportRecord
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var rec ExportRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode export record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return records, nil
}
