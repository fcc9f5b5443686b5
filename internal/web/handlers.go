package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/activism/internal/exporter"
	"github.com/JonMunkholm/activism/internal/service"
	"github.com/JonMunkholm/activism/internal/web/templates"
)

// DateParamLayout is the layout of the from and to export parameters.
const DateParamLayout = "2006-01-02"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.service.Limiter().Status(),
	})
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events-template.csv"`)
	_, _ = w.Write([]byte(service.Template()))
}

// handleImportCSV validates an uploaded CSV file and starts its import.
func (s *Server) handleImportCSV(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, fmt.Errorf("file too large: %w", err))
			return
		}
		s.respondError(w, r, fmt.Errorf("no file provided: %w", errBadRequest))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, fmt.Errorf("no file provided: %w", errBadRequest))
		return
	}
	defer file.Close()
	if header.Size == 0 {
		s.respondError(w, r, fmt.Errorf("empty file: %w", errBadRequest))
		return
	}

	run, err := s.service.ImportCSVUpload(r.Context(), groupID, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondRun(w, r, run)
}

type icalRequest struct {
	URL string `json:"url"`
}

// handleImportICal fetches and validates a feed and starts its import. The
// url is read from a JSON body or, for form posts, the url field.
func (s *Server) handleImportICal(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")

	var req icalRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			s.respondError(w, r, fmt.Errorf("decode request: %w", errBadRequest))
			return
		}
	} else {
		req.URL = r.FormValue("url")
	}
	if strings.TrimSpace(req.URL) == "" {
		s.respondError(w, r, fmt.Errorf("missing url: %w", errBadRequest))
		return
	}

	run, err := s.service.ImportICal(r.Context(), groupID, req.URL)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondRun(w, r, run)
}

// respondRun answers a started run with its id, or for htmx with the
// status fragment that polls it.
func (s *Server) respondRun(w http.ResponseWriter, r *http.Request, run service.Run) {
	if isHTMX(r) {
		p, err := s.service.Progress(r.Context(), run.BatchID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusAccepted)
		_ = templates.BatchStatus(p, batchURL(run.BatchID)).Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "batchID")
	p, err := s.service.Progress(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.BatchStatus(p, batchURL(id)).Render(r.Context(), w); err != nil {
			s.respondError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func batchURL(id string) string {
	return "/api/batches/" + id
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.export(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", exportDisposition(chi.URLParam(r, "groupID"), "csv"))
	if err := doc.WriteCSV(w); err != nil {
		s.respondError(w, r, err)
	}
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.export(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", exportDisposition(chi.URLParam(r, "groupID"), "xlsx"))
	if err := doc.WriteXLSX(w); err != nil {
		s.respondError(w, r, err)
	}
}

// export builds the group's document, restricted to the from and to dates
// when given. to includes the whole day.
func (s *Server) export(w http.ResponseWriter, r *http.Request) (*exporter.Document, bool) {
	from, to, err := parseWindow(r)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}

	var opts []exporter.Option
	if !from.IsZero() || !to.IsZero() {
		opts = append(opts, exporter.WithWindow(from, to))
	}
	doc, err := s.service.Export(r.Context(), chi.URLParam(r, "groupID"), opts...)
	if err != nil {
		s.respondError(w, r, err)
		return nil, false
	}
	return doc, true
}

func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(DateParamLayout, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid from date %q: %w", v, errBadRequest)
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(DateParamLayout, v)
		if err != nil {
			return from, to, fmt.Errorf("invalid to date %q: %w", v, errBadRequest)
		}
		to = t.Add(24*time.Hour - time.Second)
	}
	return from, to, nil
}

func exportDisposition(groupID, ext string) string {
	return fmt.Sprintf(`attachment; filename="events-%s.%s"`, groupID, ext)
}
