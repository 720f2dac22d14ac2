// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint implements the content-addressed checkpoint store: it
// takes a namespace of caller variables, serializes and hashes them, and
// commits the result as an immutable, write-once directory named after its
// own content hash.
package checkpoint

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/jinterlante1206/pystele-go/internal/serialize"
	"github.com/jinterlante1206/pystele-go/internal/validation"
	"github.com/jinterlante1206/pystele-go/internal/value"
	"github.com/jinterlante1206/pystele-go/pkg/logging"
)

var checkpointTracer = otel.Tracer("pystele.checkpoint")

const (
	manifestFileName = "manifest.json"
	metadataFileName = "metadata.json"
	objectsIdxName   = "objects.idx"
	objectsBinName   = "objects.bin"
	checksumFileName = "checksum.sha256"
)

// Store manages checkpoints rooted at a single directory on the local
// filesystem.
type Store struct {
	root   string
	logger *logging.Logger

	saveDuration *prometheus.HistogramVec
	saveBytes    prometheus.Gauge
	savesTotal   *prometheus.CounterVec
}

// NewStore creates a Store rooted at dir, creating it if necessary, and
// registers its Prometheus instrumentation against reg. reg may be nil, in
// which case a private registry is used and metrics are inert.
func NewStore(dir string, logger *logging.Logger, reg prometheus.Registerer) (*Store, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("checkpoint: create store root: %w", err)
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Store{
		root:   dir,
		logger: logger,
		saveDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pystele_checkpoint_save_duration_seconds",
			Help:    "Duration of checkpoint save operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		saveBytes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pystele_checkpoint_save_bytes",
			Help: "Size in bytes of the most recently saved checkpoint.",
		}),
		savesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pystele_checkpoint_saves_total",
			Help: "Total number of checkpoint save attempts.",
		}, []string{"status"}),
	}, nil
}

// Root returns the directory this store commits checkpoints under.
func (s *Store) Root() string { return s.root }

// Save serializes the selected entries of ns, stages a content-addressed
// checkpoint directory, and atomically commits it under the store root on
// behalf of execID. If a checkpoint with the resulting content address
// already exists, Save returns its address immediately without writing
// anything (idempotence).
func (s *Store) Save(ctx context.Context, execID string, ns map[string]any, opts SaveOptions) (result SaveResult, err error) {
	_, span := checkpointTracer.Start(ctx, "checkpoint.Store.Save")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.saveDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		s.savesTotal.WithLabelValues(status).Inc()
	}()

	selected := ns
	if opts.Include != nil {
		selected = make(map[string]any, len(opts.Include))
		for _, name := range opts.Include {
			if v, ok := ns[name]; ok {
				selected[name] = v
			}
		}
	}

	classified := make(map[string]value.Value, len(selected))
	var details []UnserializableDetail
	for name, v := range selected {
		if nameErr := validation.ValidateVariableName(name); nameErr != nil {
			details = append(details, UnserializableDetail{Name: name, Kind: "invalid name", Repr: truncateRepr(v)})
			continue
		}
		lowered, classErr := value.Classify(v)
		if classErr != nil {
			details = append(details, UnserializableDetail{Name: name, Kind: fmt.Sprintf("%T", v), Repr: truncateRepr(v)})
			continue
		}
		classified[name] = lowered
	}
	if len(details) > 0 {
		sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })
		err = &UnserializableError{Details: details}
		return SaveResult{}, err
	}

	names := make([]string, 0, len(classified))
	for name := range classified {
		names = append(names, name)
	}
	sort.Strings(names)

	index := make(Index, len(names))
	var blob bytes.Buffer
	for _, name := range names {
		data, typ, encErr := serialize.Encode(classified[name])
		if encErr != nil {
			err = &UnserializableError{Details: []UnserializableDetail{{
				Name: name,
				Kind: fmt.Sprintf("%T", selected[name]),
				Repr: truncateRepr(selected[name]),
			}}}
			return SaveResult{}, err
		}
		sum := sha256.Sum256(data)
		index[name] = ObjectRecord{
			Length: int64(len(data)),
			Offset: int64(blob.Len()),
			SHA256: hex.EncodeToString(sum[:]),
			Type:   string(typ),
		}
		blob.Write(data)
	}

	manifest := Manifest{Schema: SchemaV1, Variables: names}
	manifestBytes, err := json.Marshal(manifest)
	if err != nil {
		return SaveResult{}, fmt.Errorf("checkpoint: marshal manifest: %w", err)
	}

	checkpointID := contentAddress(manifestBytes, blob.Bytes())
	finalDir := filepath.Join(s.root, checkpointID)

	if _, statErr := os.Stat(finalDir); statErr == nil {
		s.logger.Debug("checkpoint already exists", "checkpoint_id", checkpointID)
		return SaveResult{CheckpointID: checkpointID, AlreadyExisted: true}, nil
	}

	metadataBytes, err := json.Marshal(s.buildMetadata(execID, opts.Name))
	if err != nil {
		return SaveResult{}, fmt.Errorf("checkpoint: marshal metadata: %w", err)
	}

	idxBytes, err := json.Marshal(index)
	if err != nil {
		return SaveResult{}, fmt.Errorf("checkpoint: marshal index: %w", err)
	}

	if err = s.commit(finalDir, map[string][]byte{
		manifestFileName: manifestBytes,
		metadataFileName: metadataBytes,
		objectsIdxName:   idxBytes,
		objectsBinName:   blob.Bytes(),
		checksumFileName: []byte(checkpointID),
	}); err != nil {
		return SaveResult{}, err
	}

	s.saveBytes.Set(float64(blob.Len() + len(manifestBytes)))
	s.logger.Info("checkpoint saved", "checkpoint_id", checkpointID, "exec_id", execID, "variables", len(names))
	return SaveResult{CheckpointID: checkpointID}, nil
}

// Restore loads the checkpoint named by checkpointID, verifies its outer
// checksum before any deserialization, then verifies and decodes each
// object in manifest order. Decoded values are inserted into target (with
// prefix prepended to each name, if non-empty) only after every object has
// verified and decoded, so a failed restore leaves target untouched.
func (s *Store) Restore(ctx context.Context, checkpointID string, target map[string]any, prefix string) (result RestoreResult, err error) {
	_, span := checkpointTracer.Start(ctx, "checkpoint.Store.Restore")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if err := validation.ValidateContentAddress(checkpointID); err != nil {
		return RestoreResult{}, &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "malformed content address"}
	}
	dir := filepath.Join(s.root, checkpointID)
	if _, statErr := os.Stat(dir); statErr != nil {
		err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "directory not found"}
		return RestoreResult{}, err
	}

	read := func(name string) []byte {
		if err != nil {
			return nil
		}
		data, readErr := os.ReadFile(filepath.Join(dir, name))
		if readErr != nil {
			err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "missing " + name}
		}
		return data
	}
	manifestBytes := read(manifestFileName)
	metadataBytes := read(metadataFileName)
	idxBytes := read(objectsIdxName)
	blob := read(objectsBinName)
	checksumBytes := read(checksumFileName)
	if err != nil {
		return RestoreResult{}, err
	}

	outer := contentAddress(manifestBytes, blob)
	if outer != string(checksumBytes) || outer != checkpointID {
		err = &ChecksumMismatchError{Subject: "checkpoint " + checkpointID, Expected: checkpointID, Actual: outer}
		return RestoreResult{}, err
	}

	var manifest Manifest
	if jsonErr := json.Unmarshal(manifestBytes, &manifest); jsonErr != nil {
		err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "malformed manifest.json"}
		return RestoreResult{}, err
	}
	var index Index
	if jsonErr := json.Unmarshal(idxBytes, &index); jsonErr != nil {
		err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "malformed objects.idx"}
		return RestoreResult{}, err
	}
	var metadata Metadata
	if jsonErr := json.Unmarshal(metadataBytes, &metadata); jsonErr != nil {
		err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "malformed metadata.json"}
		return RestoreResult{}, err
	}

	// Decode into a staging map first; target is only touched once the
	// whole checkpoint has verified.
	staged := make(map[string]any, len(manifest.Variables))
	restoredNames := make([]string, 0, len(manifest.Variables))
	for _, name := range manifest.Variables {
		record, ok := index[name]
		if !ok {
			err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "missing index entry for " + name}
			return RestoreResult{}, err
		}
		if record.Offset < 0 || record.Length < 0 || record.Offset+record.Length > int64(len(blob)) {
			err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "object " + name + " has an out-of-range extent"}
			return RestoreResult{}, err
		}
		raw := blob[record.Offset : record.Offset+record.Length]
		sum := sha256.Sum256(raw)
		if actual := hex.EncodeToString(sum[:]); actual != record.SHA256 {
			err = &ChecksumMismatchError{Subject: "variable " + name, Expected: record.SHA256, Actual: actual}
			return RestoreResult{}, err
		}

		decoded, decErr := serialize.Decode(raw, serialize.ObjectType(record.Type))
		if decErr != nil {
			err = &CorruptCheckpointError{CheckpointID: checkpointID, Reason: "decode " + name + ": " + decErr.Error()}
			return RestoreResult{}, err
		}

		outName := prefix + name
		staged[outName] = decoded.Native()
		restoredNames = append(restoredNames, outName)
	}

	for name, v := range staged {
		target[name] = v
	}

	s.logger.Info("checkpoint restored", "checkpoint_id", checkpointID, "variables", len(restoredNames))
	return RestoreResult{Metadata: metadata, Variables: restoredNames}, nil
}

// commit stages files into a temp directory under the store root, fsyncs
// each file and the directory itself, then atomically renames it into
// place. On any failure the staging directory is removed and the error is
// wrapped as an AtomicWriteError.
func (s *Store) commit(finalDir string, files map[string][]byte) error {
	tmpDir, err := os.MkdirTemp(s.root, "_ckpt_")
	if err != nil {
		return &AtomicWriteError{Stage: "mkdtemp", Err: err}
	}
	defer os.RemoveAll(tmpDir)

	for name, data := range files {
		if err := writeFileSynced(filepath.Join(tmpDir, name), data); err != nil {
			return &AtomicWriteError{Stage: "write " + name, Err: err}
		}
	}

	if err := syncDir(tmpDir); err != nil {
		return &AtomicWriteError{Stage: "fsync staging dir", Err: err}
	}

	if err := os.Rename(tmpDir, finalDir); err != nil {
		// A concurrent saver of the same content may have won the rename;
		// that is the idempotent outcome, not a failure.
		if _, statErr := os.Stat(finalDir); statErr == nil {
			return nil
		}
		return &AtomicWriteError{Stage: "rename", Err: err}
	}

	if err := syncDir(s.root); err != nil {
		return &AtomicWriteError{Stage: "fsync store root", Err: err}
	}
	return nil
}

func (s *Store) buildMetadata(execID, name string) Metadata {
	file, fn, line := callerInfo()
	return Metadata{
		Caller:         CallerInfo{File: file, Function: fn, Line: line},
		CheckpointName: name,
		Environment:    EnvInfo{GoVersion: runtime.Version(), PID: os.Getpid()},
		ExecutionID:    execID,
		GitCommit:      gitRevision(),
		Timestamp:      time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// callerInfo reports the file/function/line of the code that called
// Store.Save, skipping frames internal to this package.
func callerInfo() (file, function string, line int) {
	pc, file, line, ok := runtime.Caller(3)
	if !ok {
		return "", "", 0
	}
	fn := runtime.FuncForPC(pc)
	if fn != nil {
		function = fn.Name()
	}
	return file, function, line
}

// gitRevision returns the short commit hash of the working tree, or "" if
// git is unavailable or the call does not complete within one second.
func gitRevision() string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(out))
}

func contentAddress(manifest, blob []byte) string {
	h := sha256.New()
	h.Write(manifest)
	h.Write(blob)
	return hex.EncodeToString(h.Sum(nil))
}

func truncateRepr(v any) string {
	r := fmt.Sprintf("%v", v)
	if len(r) > 80 {
		r = r[:80]
	}
	return r
}

func writeFileSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
