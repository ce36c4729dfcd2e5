package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/ticketmiam/internal/history"
	"github.com/zombor/ticketmiam/internal/nutrition"
	"github.com/zombor/ticketmiam/internal/scanning"
)

const maxUploadSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeScan writes a scan, adding a warning field when it could not be persisted
func writeScan(w http.ResponseWriter, code int, scan *nutrition.ScanResult, warning string) {
	if warning == "" {
		writeJSON(w, code, scan)
		return
	}

	data, err := json.Marshal(scan)
	if err != nil {
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	body["warning"] = warning
	writeJSON(w, code, body)
}

func persistenceWarning(err error) string {
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return "The scan could not be saved and will be lost on restart."
	}
	return ""
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleStaticCSS serves the CSS file
func (s *Server) handleStaticCSS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/css")
	w.Write(appCSS)
}

// handleStaticJS serves the JavaScript file
func (s *Server) handleStaticJS(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Write(appJS)
}

// handleListScans returns the history, most recent first
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans := s.service.ListScans()
	if scans == nil {
		scans = []*nutrition.ScanResult{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleUploadReceipt handles receipt upload and analysis
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = tooLargeMessage
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, tooLargeMessage, http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := uploadContentType(header.Header.Get("Content-Type"), header.Filename)

	scan, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		if warning := persistenceWarning(err); warning != "" {
			setCORSHeaders(w)
			writeScan(w, http.StatusCreated, scan, warning)
			return
		}
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		if errors.Is(err, scanning.ErrAnalysis) {
			jsonError(w, "The receipt could not be analyzed. Please try again with a clearer photo.", http.StatusUnprocessableEntity)
			return
		}
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeScan(w, http.StatusCreated, scan, "")
}

// uploadContentType falls back to the file extension when the part has no usable Content-Type
func uploadContentType(contentType, filename string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	return "application/octet-stream"
}

// handleGetScan returns a single scan
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.GetScan(r.PathValue("id"))
	if err != nil {
		s.notFoundOrError(w, "Scan not found", err)
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

// handleDeleteScan deletes a single scan
func (s *Server) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteScan(r.Context(), r.PathValue("id")); err != nil {
		s.notFoundOrError(w, "Scan not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleClearHistory erases the whole history; it requires ?confirm=true
func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.service.ClearHistory(r.Context(), confirm); err != nil {
		if errors.Is(err, ErrConfirmationRequired) {
			jsonError(w, "Clearing the history cannot be undone. Repeat the request with confirm=true.", http.StatusBadRequest)
			return
		}
		slog.Error("Error clearing history", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCycleScore moves a product to the next Nutri-Score grade
func (s *Server) handleCycleScore(w http.ResponseWriter, r *http.Request) {
	scan, err := s.service.CycleProductScore(r.Context(), r.PathValue("id"), r.PathValue("productID"))
	if err != nil {
		if warning := persistenceWarning(err); warning != "" {
			setCORSHeaders(w)
			writeScan(w, http.StatusOK, scan, warning)
			return
		}
		if errors.Is(err, ErrProductNotFound) {
			jsonError(w, "Product not found", http.StatusNotFound)
			return
		}
		s.notFoundOrError(w, "Scan not found", err)
		return
	}
	writeScan(w, http.StatusOK, scan, "")
}

// handleGetMacros returns the macro chart data; 204 when the basket has none
func (s *Server) handleGetMacros(w http.ResponseWriter, r *http.Request) {
	macros, ok, err := s.service.MacroTotals(r.PathValue("id"))
	if err != nil {
		s.notFoundOrError(w, "Scan not found", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, macros)
}

// handleGetScanImage returns the stored receipt image
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanImage(r.PathValue("id"))
	if err != nil {
		jsonError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleTrend returns the score trend series, oldest first
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Trend())
}

// handleExport downloads the history as an XLSX workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.ExportXLSX()
	if err != nil {
		slog.Error("Error exporting history", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="ticketmiam-history.xlsx"`)
	w.Write(data)
}

func (s *Server) notFoundOrError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, history.ErrNotFound) {
		jsonError(w, message, http.StatusNotFound)
		return
	}
	slog.Error("Request failed", "error", err)
	jsonError(w, "Internal server error", http.StatusInternalServerError)
}
