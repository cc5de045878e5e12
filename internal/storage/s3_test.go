package storage

import (
	"testing"
	"time"
)

func TestDocumentStorage_ObjectKey(t *testing.T) {
	s := NewDocumentStorage(S3Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "documents",
		Region:    "us-east-1",
		PublicURL: "http://localhost:9000/documents/",
	})
	s.now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	s.newKey = func() string { return "abc" }

	tests := []struct {
		name        string
		filename    string
		contentType string
		want        string
	}{
		{"extension from name", "Financials 2023.PDF", "application/octet-stream", "documents/2024/03/05/abc.pdf"},
		{"extension from type", "", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "documents/2024/03/05/abc.xlsx"},
		{"unknown", "blob", "application/octet-stream", "documents/2024/03/05/abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.objectKey(tt.filename, tt.contentType); got != tt.want {
				t.Errorf("objectKey() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := s.URL("documents/2024/03/05/abc.pdf"); got != "http://localhost:9000/documents/documents/2024/03/05/abc.pdf" {
		t.Errorf("URL() = %q", got)
	}
}
