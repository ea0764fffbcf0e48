package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUpload)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	job, err := s.jobs.Create(filepath.Base(header.Filename))
	if err != nil {
		s.log.WithError(err).Error("create job")
		writeError(w, http.StatusInternalServerError, "Failed to create job")
		return
	}

	dst, err := os.Create(job.InputPath)
	if err != nil {
		s.jobs.Remove(job.ID)
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		s.jobs.Remove(job.ID)
		writeError(w, http.StatusInternalServerError, "Failed to save file")
		return
	}
	dst.Close()

	s.jobs.Start(job.ID)

	writeJSON(w, http.StatusAccepted, map[string]string{
		"id":     job.ID,
		"status": string(StatusPending),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}
	if !job.Rendered {
		writeError(w, http.StatusNotFound, "No audio rendered for this job")
		return
	}
	serveAttachment(w, r, job.OutputPath, downloadName(job.Filename, ".wav"), "audio/wav")
}

func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	job, ok := s.completedJob(w, r)
	if !ok {
		return
	}
	serveAttachment(w, r, job.MIDIPath, downloadName(job.Filename, ".mid"), "audio/midi")
}

// completedJob looks up the job in the URL and writes an error response
// unless it finished successfully.
func (s *Server) completedJob(w http.ResponseWriter, r *http.Request) (Job, bool) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Job not found")
		return Job{}, false
	}
	switch job.Status {
	case StatusComplete:
		return job, true
	case StatusFailed:
		writeError(w, http.StatusConflict, job.Error)
	default:
		writeError(w, http.StatusConflict, "Job not complete")
	}
	return Job{}, false
}

func serveAttachment(w http.ResponseWriter, r *http.Request, path, name, contentType string) {
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

// downloadName derives a download filename from the uploaded one
func downloadName(upload, ext string) string {
	base := strings.TrimSuffix(filepath.Base(upload), filepath.Ext(upload))
	if base == "" || base == "." {
		base = "converted"
	}
	return base + ext
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
