package handler

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	financeapp "github.com/erp/fiscal/internal/application/finance"
	"github.com/erp/fiscal/internal/domain/cfdi"
	"github.com/erp/fiscal/internal/domain/finance"
	"github.com/erp/fiscal/internal/domain/shared"
	"github.com/erp/fiscal/internal/interfaces/http/dto"
	"github.com/erp/fiscal/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type upload struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func invoiceRouter(ingester *mockIngester, reader *mockInvoiceReader, limits UploadLimits) *gin.Engine {
	h := NewInvoiceHandler(ingester, reader, limits, time.UTC)
	r := testEngine()
	r.POST("/invoices", h.Ingest)
	r.PUT("/invoices/:id/document", h.ReplaceDocument)
	r.GET("/invoices/:id", h.Get)
	r.GET("/invoices", h.List)
	return r
}

func TestInvoiceHandler_Ingest(t *testing.T) {
	xmlDoc := []byte(`<cfdi:Comprobante/>`)

	t.Run("created", func(t *testing.T) {
		ingester := new(mockIngester)
		invID := uuid.New()
		ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(req financeapp.IngestInvoiceRequest) bool {
			return req.ActorID == "user-1" &&
				req.IssuerID == "AAA010101AAA" &&
				req.ProjectID != nil && *req.ProjectID == "P-1" &&
				req.RecipientID == nil &&
				req.InvoiceID == nil &&
				req.XML.Filename == "factura.xml" && bytes.Equal(req.XML.Data, xmlDoc) &&
				req.PDF != nil && req.PDF.Filename == "factura.pdf"
		}), mock.Anything).Return(&financeapp.IngestInvoiceResult{
			Invoice: financeapp.InvoiceResponse{ID: invID, IssuerID: "AAA010101AAA"},
			Created: true,
		}, nil)

		req := multipartRequest(t, http.MethodPost, "/invoices",
			map[string]string{"issuer_id": "AAA010101AAA", "project_id": "P-1"},
			upload{"xml", "factura.xml", xmlDoc},
			upload{"pdf", "factura.pdf", []byte("%PDF-1.4")},
		)
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(ingester, new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), invID.String())
		ingester.AssertExpectations(t)
	})

	t.Run("requires actor", func(t *testing.T) {
		req := multipartRequest(t, http.MethodPost, "/invoices",
			map[string]string{"issuer_id": "ISS1"}, upload{"xml", "a.xml", xmlDoc})
		w := httptest.NewRecorder()
		invoiceRouter(new(mockIngester), new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("requires xml file", func(t *testing.T) {
		req := multipartRequest(t, http.MethodPost, "/invoices", map[string]string{"issuer_id": "ISS1"})
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(new(mockIngester), new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeResponse(t, w)
		require.Len(t, resp.Error.Details, 1)
		assert.Equal(t, "xml", resp.Error.Details[0].Field)
	})

	t.Run("rejects traversal in issuer id", func(t *testing.T) {
		req := multipartRequest(t, http.MethodPost, "/invoices",
			map[string]string{"issuer_id": "../other"}, upload{"xml", "a.xml", xmlDoc})
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(new(mockIngester), new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, decodeResponse(t, w).Error.Code)
	})

	t.Run("oversized xml reaches the service truncated", func(t *testing.T) {
		ingester := new(mockIngester)
		ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(req financeapp.IngestInvoiceRequest) bool {
			return len(req.XML.Data) == 5
		}), mock.Anything).Return(nil, shared.NewValidationError("xml", "XML file exceeds 4 bytes"))

		req := multipartRequest(t, http.MethodPost, "/invoices",
			map[string]string{"issuer_id": "ISS1"}, upload{"xml", "a.xml", []byte("0123456789")})
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(ingester, new(mockInvoiceReader), UploadLimits{MaxXMLSize: 4}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		ingester.AssertExpectations(t)
	})

	t.Run("parse failure is 422", func(t *testing.T) {
		ingester := new(mockIngester)
		ingester.On("Ingest", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, shared.NewParseError(&cfdi.ParseError{Reason: cfdi.ReasonMissingTimbre}))

		req := multipartRequest(t, http.MethodPost, "/invoices",
			map[string]string{"issuer_id": "ISS1"}, upload{"xml", "a.xml", xmlDoc})
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(ingester, new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeParse, resp.Error.Code)
	})

	t.Run("replace document", func(t *testing.T) {
		invID := uuid.New()
		ingester := new(mockIngester)
		ingester.On("Ingest", mock.Anything, mock.MatchedBy(func(req financeapp.IngestInvoiceRequest) bool {
			return req.InvoiceID != nil && *req.InvoiceID == invID && req.PDF == nil
		}), mock.Anything).Return(&financeapp.IngestInvoiceResult{
			Invoice: financeapp.InvoiceResponse{ID: invID},
		}, nil)

		req := multipartRequest(t, http.MethodPut, "/invoices/"+invID.String()+"/document",
			map[string]string{"issuer_id": "ISS1"}, upload{"xml", "a.xml", xmlDoc})
		req.Header.Set(middleware.ActorIDHeader, "user-1")
		w := httptest.NewRecorder()
		invoiceRouter(ingester, new(mockInvoiceReader), UploadLimits{}).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		ingester.AssertExpectations(t)
	})
}

func TestInvoiceHandler_Get(t *testing.T) {
	id := uuid.New()
	reader := new(mockInvoiceReader)
	reader.On("GetInvoice", mock.Anything, id).Return(&financeapp.InvoiceResponse{ID: id, Folio: "F-1"}, nil)
	reader.On("GetInvoice", mock.Anything, mock.Anything).Return(nil, shared.ErrNotFound)
	r := invoiceRouter(new(mockIngester), reader, UploadLimits{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices/"+id.String(), nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"folio":"F-1"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvoiceHandler_List(t *testing.T) {
	t.Run("filters and inclusive end date", func(t *testing.T) {
		reader := new(mockInvoiceReader)
		reader.On("ListInvoices", mock.Anything, mock.MatchedBy(func(f finance.InvoiceFilter) bool {
			return f.IssuerID == "ISS1" &&
				f.Paid != nil && !*f.Paid &&
				f.From != nil && f.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) &&
				f.To != nil && f.To.Before(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) &&
				f.To.After(time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)) &&
				f.Page == 2 && f.PageSize == 10
		})).Return([]financeapp.InvoiceResponse{{Folio: "F-9"}}, int64(11), nil)

		w := httptest.NewRecorder()
		invoiceRouter(new(mockIngester), reader, UploadLimits{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/invoices?issuer_id=ISS1&paid=false&from=2024-01-01&to=2024-01-31&page=2&page_size=10", nil))

		assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeResponse(t, w)
		require.NotNil(t, resp.Meta)
		assert.Equal(t, int64(11), resp.Meta.Total)
		assert.Equal(t, 2, resp.Meta.TotalPages)
		reader.AssertExpectations(t)
	})

	t.Run("bad date", func(t *testing.T) {
		w := httptest.NewRecorder()
		invoiceRouter(new(mockIngester), new(mockInvoiceReader), UploadLimits{}).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invoices?from=01-01-2024", nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
