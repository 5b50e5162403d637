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

	"github.com/shopspring/decimal"

	"github.com/zombor/tabsplit/internal/parser"
	"github.com/zombor/tabsplit/internal/scanning"
)

// 50MB handles high-resolution phone photos
const maxUploadSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes {"error": message} with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, scanning.ErrInvalidImage),
		errors.Is(err, parser.ErrNoObservations),
		errors.Is(err, parser.ErrInvalidImageSize):
		return http.StatusBadRequest
	case errors.Is(err, ErrNothingDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRecognitionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs unexpected failures and writes the mapped status
func serviceError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	jsonError(w, err.Error(), code)
}

// contentTypeFor guesses the upload type from its extension
func contentTypeFor(filename string) string {
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
	default:
		return "application/octet-stream"
	}
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		serviceError(w, "Error listing receipts", err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

type uploadResponse struct {
	Receipt     *Receipt            `json:"receipt"`
	Diagnostics *parser.Diagnostics `json:"diagnostics,omitempty"`
}

type errorWithDiagnostics struct {
	Error       string              `json:"error"`
	Diagnostics *parser.Diagnostics `json:"diagnostics,omitempty"`
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+1<<20)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = tooLargeMessage
		}
		jsonError(w, msg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		msg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			msg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, msg, http.StatusBadRequest)
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

	contentType := strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFor(header.Filename)
	}

	receipt, diagnostics, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType)
	if errors.Is(err, ErrNothingDetected) {
		writeJSON(w, http.StatusUnprocessableEntity, errorWithDiagnostics{
			Error:       "No items, subtotal or total could be read from this receipt. Try a clearer photo.",
			Diagnostics: diagnostics,
		})
		return
	}
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		jsonError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{Receipt: receipt, Diagnostics: diagnostics})
}

type parseRequest struct {
	Observations []parser.Observation `json:"observations"`
	Size         parser.Size          `json:"size"`
}

// handleParse parses observations supplied as JSON without storing anything
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.service.Parse(req.Observations, req.Size)
	if err != nil {
		serviceError(w, "Error parsing observations", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error getting receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the uploaded image for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error getting receipt file", err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		serviceError(w, "Error deleting receipt", err)
		return
	}
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleAddPerson adds someone to the bill
func (s *Server) handleAddPerson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, _, err := s.service.AddPerson(r.PathValue("id"), req.Name)
	if err != nil {
		serviceError(w, "Error adding person", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleRemovePerson removes someone and their assignments
func (s *Server) handleRemovePerson(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.RemovePerson(r.PathValue("id"), r.PathValue("personID"))
	if err != nil {
		serviceError(w, "Error removing person", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

type itemRequest struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// handleAddItem adds an item the recognizer missed
func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	receipt, _, err := s.service.AddItem(r.PathValue("id"), req.Name, req.UnitPrice, req.Quantity)
	if err != nil {
		serviceError(w, "Error adding item", err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// handleUpdateItem applies a partial item edit
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.UpdateItem(r.PathValue("id"), r.PathValue("itemID"), req)
	if err != nil {
		serviceError(w, "Error updating item", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteItem removes an item
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.DeleteItem(r.PathValue("id"), r.PathValue("itemID"))
	if err != nil {
		serviceError(w, "Error deleting item", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleToggleAssignment flips one person on one unit of an item
func (s *Server) handleToggleAssignment(w http.ResponseWriter, r *http.Request) {
	unit, err := strconv.Atoi(r.PathValue("unit"))
	if err != nil {
		jsonError(w, "Unit must be a number", http.StatusBadRequest)
		return
	}
	var req struct {
		PersonID string `json:"person_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.ToggleAssignment(r.PathValue("id"), r.PathValue("itemID"), unit, req.PersonID)
	if err != nil {
		serviceError(w, "Error toggling assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleAssignAll puts the same people on every unit of an item
func (s *Server) handleAssignAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PersonIDs []string `json:"person_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.AssignAll(r.PathValue("id"), r.PathValue("itemID"), req.PersonIDs)
	if err != nil {
		serviceError(w, "Error assigning item", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleUpdateRates sets VAT and service percentages
func (s *Server) handleUpdateRates(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VATPercentage     decimal.Decimal `json:"vat_percentage"`
		ServicePercentage decimal.Decimal `json:"service_percentage"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.UpdateRates(r.PathValue("id"), Rates{VAT: req.VATPercentage, Service: req.ServicePercentage})
	if err != nil {
		serviceError(w, "Error updating rates", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleSplits returns what each person owes
func (s *Server) handleSplits(w http.ResponseWriter, r *http.Request) {
	splits, err := s.service.Splits(r.PathValue("id"))
	if err != nil {
		serviceError(w, "Error calculating splits", err)
		return
	}
	writeJSON(w, http.StatusOK, splits)
}

// handleExportCSV downloads every receipt as CSV
func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		serviceError(w, "Error listing receipts", err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.csv"`)
	if err := ExportCSV(w, receipts); err != nil {
		slog.Error("Error writing csv export", "error", err)
	}
}

// handleExportXLSX downloads every receipt as a spreadsheet
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		serviceError(w, "Error listing receipts", err)
		return
	}

	data, err := ExportXLSX(receipts)
	if err != nil {
		serviceError(w, "Error building xlsx export", err)
		return
	}

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="receipts.xlsx"`)
	w.Write(data)
}
