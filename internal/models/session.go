package models

import "time"

// Session represents a conversation context associating a user with an optional
// PDF document and its message history.
type Session struct {
	ID        string
	Title     string
	CreatedAt time.Time

	// PDFName and PDFSize describe the attached document, if any. A session
	// without a PDF has an empty PDFName.
	PDFName string
	PDFSize int64
}

// HasPDF reports whether a document has been attached to the session.
func (s Session) HasPDF() bool {
	return s.PDFName != ""
}
