package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/receipts"
)

func multipartRequest(t *testing.T, field string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, "receipt.png")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	request := httptest.NewRequest(http.MethodPost, "/api/parse-receipt", &body)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	return request
}

func TestParseReceiptEndpointReturnsItems(t *testing.T) {
	stack := newTestStack(t)
	stack.receipts.items = []bill.Item{{ID: "item-1", Name: "Ramen", Price: 15, Quantity: 1, AssignedTo: bill.Assignments{{}}}}
	stack.receipts.outcome = receipts.OutcomeParsed

	recorder := httptest.NewRecorder()
	stack.handler.ServeHTTP(recorder, multipartRequest(t, receiptFormField, []byte("image-bytes")))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var items []bill.Item
	if err := json.Unmarshal(recorder.Body.Bytes(), &items); err != nil {
		t.Fatalf("failed to decode items: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Ramen" {
		t.Fatalf("unexpected items %s", recorder.Body.String())
	}
	if len(stack.receipts.images) != 1 || string(stack.receipts.images[0]) != "image-bytes" {
		t.Fatalf("expected upload to reach the parser")
	}
}

func TestParseReceiptEndpointRejectsBadUploads(t *testing.T) {
	stack := newTestStack(t)
	stack.receipts.limit = 4

	recorder := httptest.NewRecorder()
	stack.handler.ServeHTTP(recorder, multipartRequest(t, "photo", []byte("x")))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong field, got %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	stack.handler.ServeHTTP(recorder, multipartRequest(t, receiptFormField, []byte("too many bytes")))
	if recorder.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized upload, got %d", recorder.Code)
	}
	if len(stack.receipts.images) != 0 {
		t.Fatalf("expected rejected uploads not to reach the parser")
	}
}
