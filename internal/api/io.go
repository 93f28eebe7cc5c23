package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/demetra.report/internal/httputil"
	"github.com/banshee-data/demetra.report/internal/iofmt"
	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/objstore"
	"github.com/banshee-data/demetra.report/internal/security"
	"github.com/banshee-data/demetra.report/internal/store"
	"github.com/banshee-data/demetra.report/internal/tsdata"
)

// maxExportSeries caps /io/export.
const maxExportSeries = 1000

// multipartOverhead is the slack allowed above MaxFileSize for the
// multipart envelope.
const multipartOverhead = 1 << 20

const downloadPrefix = "/api/v1/io/download/"

func (s *Server) uploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.limits.MaxFileSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RequestEntityTooLarge(w, "File too large")
			return
		}
		httputil.BadRequest(w, fmt.Sprintf("missing file: %v", err))
		return
	}
	defer file.Close()
	if header.Size > s.limits.MaxFileSize {
		httputil.RequestEntityTooLarge(w, "File too large")
		return
	}
	format, err := iofmt.FormatFromFilename(header.Filename)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Unsupported file extension: %s", path.Ext(header.Filename)))
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("read upload: %v", err))
		return
	}

	id := uuid.NewString()
	key := "uploads/" + id + strings.ToLower(path.Ext(header.Filename))
	obj, err := s.objects.Put(r.Context(), key, data, iofmt.ContentType(header.Filename))
	if err != nil {
		writeStoreError(w, "store upload", err)
		return
	}
	rec := &store.FileRecord{ID: id, Name: security.SanitizeFilename(path.Base(header.Filename)), Path: obj.Key, Size: obj.Size, Format: string(format)}
	if err := s.store.SaveFileRecord(rec); err != nil {
		writeStoreError(w, "record upload", err)
		return
	}
	monitoring.Logf("io: uploaded %s (%d bytes) as %s", rec.Name, rec.Size, rec.ID)
	httputil.WriteJSONOK(w, rec)
}

// readFile resolves id to an uploaded file record or, failing that, to an
// object key such as one returned by export or convert.
func (s *Server) readFile(ctx context.Context, id string) ([]byte, *store.FileRecord, error) {
	rec, err := s.store.GetFileRecord(id)
	if errors.Is(err, store.ErrNotFound) {
		key, kerr := objstore.CleanKey(id)
		if kerr != nil {
			return nil, nil, store.ErrNotFound
		}
		obj, serr := s.objects.Stat(ctx, key)
		if serr != nil {
			return nil, nil, serr
		}
		rec = &store.FileRecord{ID: id, Name: path.Base(key), Path: key, Size: obj.Size, CreatedAt: obj.ModTime}
		if f, ferr := iofmt.FormatFromFilename(key); ferr == nil {
			rec.Format = string(f)
		}
	} else if err != nil {
		return nil, nil, err
	}
	data, err := s.objects.Get(ctx, rec.Path)
	if err != nil {
		return nil, nil, err
	}
	return data, rec, nil
}

type importedSeries struct {
	SeriesID string         `json:"series_id"`
	Name     string         `json:"name"`
	Length   int            `json:"length"`
	Metadata map[string]any `json:"metadata"`
}

type importResponse struct {
	ImportID       string           `json:"import_id"`
	Status         string           `json:"status"`
	ImportedSeries []importedSeries `json:"imported_series"`
	TotalSeries    int              `json:"total_series"`
	Warnings       []string         `json:"warnings"`
	ImportTime     float64          `json:"import_time"`
}

func (s *Server) importFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID  string        `json:"file_id"`
		Options iofmt.Options `json:"options"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	format, err := iofmt.ParseFormat(r.PathValue("format"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Unsupported format: %s", r.PathValue("format")))
		return
	}
	started := time.Now()
	data, _, err := s.readFile(r.Context(), req.FileID)
	if err != nil {
		writeLookupError(w, err, "File not found")
		return
	}
	parsed, err := iofmt.Parse(format, data, req.Options)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Import failed: %v", err))
		return
	}

	resp := importResponse{ImportID: uuid.NewString(), Status: "completed", ImportedSeries: []importedSeries{}, Warnings: []string{}}
	if len(parsed) > s.limits.MaxSeriesPerFile {
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("file holds %d series; only the first %d were imported", len(parsed), s.limits.MaxSeriesPerFile))
		parsed = parsed[:s.limits.MaxSeriesPerFile]
	}
	type pending struct {
		name string
		ps   iofmt.ParsedSeries
	}
	var accepted []pending
	for i, ps := range parsed {
		name := ps.Name
		if name == "" {
			name = fmt.Sprintf("series_%d", i+1)
		}
		if err := s.checkNewSeries(ps.Series); err != nil {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		for _, msg := range tsdata.Validate(ps.Series).Warnings {
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("%s: %s", name, msg))
		}
		accepted = append(accepted, pending{name, ps})
	}
	if len(accepted) == 0 {
		resp.Status = "failed"
	}

	// The series and the import record are written together, so a failed
	// import leaves nothing behind.
	err = s.store.InTx(func(tx *store.Tx) error {
		resp.ImportedSeries = resp.ImportedSeries[:0]
		for _, a := range accepted {
			rec, err := tx.CreateSeries(a.name, a.ps.Series)
			if err != nil {
				return err
			}
			resp.ImportedSeries = append(resp.ImportedSeries, importedSeries{SeriesID: rec.ID, Name: a.name, Length: a.ps.Series.Len(), Metadata: a.ps.Metadata})
		}
		resp.TotalSeries = len(resp.ImportedSeries)
		resp.ImportTime = time.Since(started).Seconds()
		_, err := tx.SaveResult(store.KindImport, resp.ImportID, resp, s.limits.ResultTTL)
		return err
	})
	if err != nil {
		writeStoreError(w, "store imported series", err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}

type exportResponse struct {
	ExportID    string    `json:"export_id"`
	FileID      string    `json:"file_id"`
	DownloadURL string    `json:"download_url"`
	Format      string    `json:"format"`
	FileSize    int64     `json:"file_size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// putGenerated stores a generated file and indexes it.
func (s *Server) putGenerated(ctx context.Context, key string, f iofmt.Format, data []byte) (*store.FileRecord, error) {
	obj, err := s.objects.Put(ctx, key, data, iofmt.ContentType(key))
	if err != nil {
		return nil, err
	}
	rec := &store.FileRecord{Name: path.Base(obj.Key), Path: obj.Key, Size: obj.Size, Format: string(f)}
	if err := s.store.SaveFileRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Server) exportSeries(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SeriesIDs []string      `json:"series_ids"`
		Filename  string        `json:"filename"`
		Options   iofmt.Options `json:"options"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	format, err := iofmt.ParseFormat(r.PathValue("format"))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Unsupported format: %s", r.PathValue("format")))
		return
	}
	if len(req.SeriesIDs) == 0 {
		httputil.BadRequest(w, "series_ids cannot be empty")
		return
	}
	if len(req.SeriesIDs) > maxExportSeries {
		httputil.BadRequest(w, fmt.Sprintf("Cannot export more than %d series", maxExportSeries))
		return
	}

	series := make([]iofmt.ParsedSeries, 0, len(req.SeriesIDs))
	for _, id := range req.SeriesIDs {
		rec, err := s.loadSeries(id)
		if err != nil {
			writeLookupError(w, err, fmt.Sprintf("Time series %s not found", id))
			return
		}
		ts := rec.Series.Clone()
		series = append(series, iofmt.ParsedSeries{Name: rec.Name, Series: ts, Metadata: ts.Metadata})
	}
	data, err := iofmt.Write(format, series, req.Options)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Export failed: %v", err))
		return
	}

	name := security.SanitizeFilename(path.Base(req.Filename))
	if req.Filename == "" || name == "unknown" {
		name = "export_" + uuid.NewString() + format.Extension()
	}
	rec, err := s.putGenerated(r.Context(), "exports/"+name, format, data)
	if errors.Is(err, objstore.ErrInvalidKey) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		writeStoreError(w, "store export", err)
		return
	}
	httputil.WriteJSONOK(w, exportResponse{
		ExportID:    uuid.NewString(),
		FileID:      rec.ID,
		DownloadURL: downloadPrefix + rec.Path,
		Format:      string(format),
		FileSize:    rec.Size,
		ExpiresAt:   s.store.Clock().Now().UTC().Add(s.limits.ResultTTL),
	})
}

type convertResponse struct {
	ConversionID   string  `json:"conversion_id"`
	SourceFile     string  `json:"source_file"`
	TargetFile     string  `json:"target_file"`
	FileID         string  `json:"file_id"`
	DownloadURL    string  `json:"download_url"`
	ConversionTime float64 `json:"conversion_time"`
}

func (s *Server) convertFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID       string `json:"file_id"`
		SourceFileID string `json:"source_file_id"`
		SourceFormat string `json:"source_format"`
		TargetFormat string `json:"target_format"`
		Options      struct {
			Parse  iofmt.Options `json:"parse_options"`
			Format iofmt.Options `json:"format_options"`
		} `json:"options"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FileID == "" {
		req.FileID = req.SourceFileID
	}
	source, err := iofmt.ParseFormat(req.SourceFormat)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Unsupported source format: %s", req.SourceFormat))
		return
	}
	target, err := iofmt.ParseFormat(req.TargetFormat)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Unsupported target format: %s", req.TargetFormat))
		return
	}
	if source == target {
		httputil.BadRequest(w, "source_format and target_format must differ")
		return
	}

	started := time.Now()
	data, src, err := s.readFile(r.Context(), req.FileID)
	if err != nil {
		writeLookupError(w, err, "File not found")
		return
	}
	parsed, err := iofmt.Parse(source, data, req.Options.Parse)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Conversion failed: %v", err))
		return
	}
	out, err := iofmt.Write(target, parsed, req.Options.Format)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Conversion failed: %v", err))
		return
	}
	rec, err := s.putGenerated(r.Context(), "converted/"+uuid.NewString()+target.Extension(), target, out)
	if err != nil {
		writeStoreError(w, "store conversion", err)
		return
	}
	httputil.WriteJSONOK(w, convertResponse{
		ConversionID:   uuid.NewString(),
		SourceFile:     src.Path,
		TargetFile:     rec.Path,
		FileID:         rec.ID,
		DownloadURL:    downloadPrefix + rec.Path,
		ConversionTime: time.Since(started).Seconds(),
	})
}

func (s *Server) listFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"formats": iofmt.Formats()})
}

type fileValidation struct {
	Valid          bool           `json:"valid"`
	FormatDetected *string        `json:"format_detected"`
	Errors         []string       `json:"errors"`
	Warnings       []string       `json:"warnings"`
	FileInfo       map[string]any `json:"file_info"`
}

func (s *Server) validateFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileID  string        `json:"file_id"`
		Format  string        `json:"format"`
		Options iofmt.Options `json:"options"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	data, rec, err := s.readFile(r.Context(), req.FileID)
	if err != nil {
		writeLookupError(w, err, "File not found")
		return
	}
	var format iofmt.Format
	if req.Format != "" {
		format, err = iofmt.ParseFormat(req.Format)
	} else {
		format, err = iofmt.FormatFromFilename(rec.Path)
	}
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	report := iofmt.Validate(format, data, req.Options)
	resp := fileValidation{
		Valid:    report.Valid,
		Errors:   report.Errors,
		Warnings: report.Warnings,
		FileInfo: map[string]any{
			"filename":     rec.Name,
			"size":         len(data),
			"lines":        bytes.Count(data, []byte("\n")) + 1,
			"series_count": report.Series,
		},
	}
	if report.Valid {
		detected := string(format)
		resp.FormatDetected = &detected
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	key, err := objstore.CleanKey(r.PathValue("path"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	data, err := s.objects.Get(r.Context(), key)
	if err != nil {
		writeLookupError(w, err, "File not found")
		return
	}
	w.Header().Set("Content-Type", iofmt.ContentType(key))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", path.Base(key)))
	if _, err := w.Write(data); err != nil {
		monitoring.Logf("io: write %s: %v", key, err)
	}
}
