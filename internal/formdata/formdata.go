// Package formdata encodes multipart/form-data bodies in the layout accepted by
// upload endpoints of image and video generation APIs.
//
// Parameter values in the Content-Disposition header are written unquoted, so
// names and filenames must be RFC 2045 tokens; Encode rejects anything else
// with ErrInvalidName. Part contents are copied verbatim. Nothing is escaped,
// so the boundary must not occur anywhere in a name, value or file payload.
// Encode refuses a caller-chosen boundary that does, and regenerates a random
// one until it does not.
package formdata

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DefaultFieldContentType is the content type written for every text field.
const DefaultFieldContentType = "text/plain"

// maxBoundaryAttempts bounds regeneration of a random boundary that collided
// with part content.
const maxBoundaryAttempts = 8

var (
	// ErrInvalidBoundary is returned for a boundary outside the RFC 2046 grammar.
	ErrInvalidBoundary = errors.New("formdata: invalid boundary")

	// ErrBoundaryInContent is returned when the boundary occurs in a part.
	ErrBoundaryInContent = errors.New("formdata: boundary occurs in part content")

	// ErrInvalidName is returned for a name or filename that is not a
	// non-empty RFC 2045 token.
	ErrInvalidName = errors.New("formdata: invalid part name")
)

// Field is one text/plain form part.
type Field struct {
	Name  string
	Value string
}

// FilePart is the single file attachment of a form.
type FilePart struct {
	FieldName string
	FileName  string
	// ContentType overrides the type inferred from FileName when non-empty.
	ContentType string
	Content     []byte
}

// Form accumulates the parts of one multipart body. Parts are serialized once,
// by Encode, in insertion order with the file part first.
type Form struct {
	// Boundary is the delimiter token. A random one is generated when empty.
	Boundary string
	File     *FilePart
	Fields   []Field
}

// Add appends a text field. An empty value is sent as an empty part; to omit
// a field, do not add it.
func (f *Form) Add(name, value string) *Form {
	f.Fields = append(f.Fields, Field{Name: name, Value: value})
	return f
}

// Attach sets the file part, replacing any previous one.
func (f *Form) Attach(fieldName, fileName string, content []byte) *Form {
	f.File = &FilePart{
		FieldName: fieldName,
		FileName:  fileName,
		Content:   content,
	}
	return f
}

// Body is an encoded multipart payload.
type Body struct {
	Boundary string
	Bytes    []byte
}

// ContentType returns the request Content-Type header value for the body.
func (b *Body) ContentType() string {
	return "multipart/form-data; boundary=" + b.Boundary
}

// Encode serializes the form.
func (f *Form) Encode() (*Body, error) {
	if err := f.validateNames(); err != nil {
		return nil, err
	}

	boundary := f.Boundary
	if boundary == "" {
		generated, err := f.freshBoundary()
		if err != nil {
			return nil, err
		}
		boundary = generated
	} else {
		if err := ValidateBoundary(boundary); err != nil {
			return nil, err
		}
		if f.contains(boundary) {
			return nil, fmt.Errorf("%w: %q", ErrBoundaryInContent, boundary)
		}
	}

	var buf bytes.Buffer
	delimiter := "--" + boundary + "\r\n"

	if f.File != nil {
		contentType := f.File.ContentType
		if contentType == "" {
			contentType = ContentTypeFor(f.File.FileName)
		}
		buf.WriteString(delimiter)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%s; filename=%s\r\n", f.File.FieldName, f.File.FileName)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", contentType)
		buf.Write(f.File.Content)
		buf.WriteString("\r\n")
	}

	for _, field := range f.Fields {
		buf.WriteString(delimiter)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%s;\r\n", field.Name)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n\r\n", DefaultFieldContentType)
		buf.WriteString(field.Value)
		buf.WriteString("\r\n")
	}

	buf.WriteString("--" + boundary + "--\r\n")

	return &Body{Boundary: boundary, Bytes: buf.Bytes()}, nil
}

func (f *Form) validateNames() error {
	if f.File != nil {
		if err := ValidateName(f.File.FieldName); err != nil {
			return fmt.Errorf("file field: %w", err)
		}
		if err := ValidateName(f.File.FileName); err != nil {
			return fmt.Errorf("filename: %w", err)
		}
	}
	for i, field := range f.Fields {
		if err := ValidateName(field.Name); err != nil {
			return fmt.Errorf("field %d: %w", i, err)
		}
	}
	return nil
}

// ValidateName checks that name can be written as an unquoted
// Content-Disposition parameter value.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	for i := 0; i < len(name); i++ {
		if !isTokenChar(name[i]) {
			return fmt.Errorf("%w: %q is not a token", ErrInvalidName, name)
		}
	}
	return nil
}

// isTokenChar matches RFC 2045 token characters: printable US-ASCII except
// space and tspecials.
func isTokenChar(c byte) bool {
	if c <= ' ' || c >= 0x7f {
		return false
	}
	return !strings.ContainsRune(`()<>@,;:\"/[]?=`, rune(c))
}

// contains reports whether boundary occurs in any name, value or payload.
func (f *Form) contains(boundary string) bool {
	if f.File != nil {
		if strings.Contains(f.File.FieldName, boundary) ||
			strings.Contains(f.File.FileName, boundary) ||
			bytes.Contains(f.File.Content, []byte(boundary)) {
			return true
		}
	}
	for _, field := range f.Fields {
		if strings.Contains(field.Name, boundary) || strings.Contains(field.Value, boundary) {
			return true
		}
	}
	return false
}

func (f *Form) freshBoundary() (string, error) {
	for attempt := 0; attempt < maxBoundaryAttempts; attempt++ {
		boundary, err := RandomBoundary()
		if err != nil {
			return "", err
		}
		if !f.contains(boundary) {
			return boundary, nil
		}
	}
	return "", fmt.Errorf("%w: no unique boundary after %d attempts", ErrBoundaryInContent, maxBoundaryAttempts)
}

// RandomBoundary returns 30 random bytes, hex encoded.
func RandomBoundary() (string, error) {
	var buf [30]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("formdata: generate boundary: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// ValidateBoundary checks boundary against RFC 2046 section 5.1.1.
func ValidateBoundary(boundary string) error {
	if len(boundary) < 1 || len(boundary) > 70 {
		return fmt.Errorf("%w: length %d", ErrInvalidBoundary, len(boundary))
	}
	if strings.HasSuffix(boundary, " ") {
		return fmt.Errorf("%w: trailing space", ErrInvalidBoundary)
	}
	for _, b := range boundary {
		if 'A' <= b && b <= 'Z' || 'a' <= b && b <= 'z' || '0' <= b && b <= '9' {
			continue
		}
		switch b {
		case '\'', '(', ')', '+', '_', ',', '-', '.', '/', ':', '=', '?', ' ':
			continue
		}
		return fmt.Errorf("%w: character %q", ErrInvalidBoundary, b)
	}
	return nil
}
