package formdata

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_TextFieldsExactBytes(t *testing.T) {
	form := &Form{Boundary: "B1"}
	form.Add("seconds", "10").Add("seed", "").Add("image_as_end_frame", "false")

	body, err := form.Encode()
	require.NoError(t, err)

	want := "--B1\r\nContent-Disposition: form-data; name=seconds;\r\nContent-Type: text/plain\r\n\r\n10\r\n" +
		"--B1\r\nContent-Disposition: form-data; name=seed;\r\nContent-Type: text/plain\r\n\r\n\r\n" +
		"--B1\r\nContent-Disposition: form-data; name=image_as_end_frame;\r\nContent-Type: text/plain\r\n\r\nfalse\r\n" +
		"--B1--\r\n"
	assert.Equal(t, want, string(body.Bytes))
	assert.Equal(t, "B1", body.Boundary)
	assert.Equal(t, "multipart/form-data; boundary=B1", body.ContentType())
}

func TestEncode_FilePartFirst(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	form := &Form{Boundary: "B2"}
	form.Add("seconds", "10")
	form.Attach("init_image", "pupu.png", payload)

	body, err := form.Encode()
	require.NoError(t, err)

	raw := string(body.Bytes)
	head := "--B2\r\nContent-Disposition: form-data; name=init_image; filename=pupu.png\r\nContent-Type: image/png\r\n\r\n"
	require.True(t, strings.HasPrefix(raw, head), "unexpected prefix: %q", raw)

	rest := body.Bytes[len(head):]
	assert.Equal(t, payload, rest[:len(payload)])
	assert.True(t, bytes.HasPrefix(rest[len(payload):], []byte("\r\n--B2\r\n")))
}

func TestEncode_ExplicitContentTypeWins(t *testing.T) {
	form := &Form{Boundary: "B3"}
	form.File = &FilePart{FieldName: "clip", FileName: "clip.bin", ContentType: "video/mp4", Content: []byte("x")}

	body, err := form.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(body.Bytes), "Content-Type: video/mp4\r\n")
}

func TestEncode_EmptyForm(t *testing.T) {
	body, err := (&Form{Boundary: "only"}).Encode()
	require.NoError(t, err)
	assert.Equal(t, "--only--\r\n", string(body.Bytes))
}

func TestEncode_SegmentCount(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
		file   *FilePart
	}{
		{name: "no parts"},
		{name: "fields only", fields: []Field{{"a", "1"}, {"b", ""}, {"c", "three"}}},
		{name: "file only", file: &FilePart{FieldName: "f", FileName: "x.png", Content: []byte("abc")}},
		{
			name:   "file and fields",
			fields: []Field{{"text_prompt", ""}, {"seconds", "10"}},
			file:   &FilePart{FieldName: "init_image", FileName: "in.jpg", Content: []byte{0, 1, 2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := &Form{Boundary: "SEG", Fields: tt.fields, File: tt.file}
			body, err := form.Encode()
			require.NoError(t, err)

			segments := strings.Split(string(body.Bytes), "--SEG")
			require.Equal(t, "", segments[0])
			segments = segments[1:]

			want := len(tt.fields) + 1
			if tt.file != nil {
				want++
			}
			require.Len(t, segments, want)
			assert.Equal(t, "--\r\n", segments[len(segments)-1])

			parts := segments[:len(segments)-1]
			offset := 0
			if tt.file != nil {
				headers, content := splitSegment(t, parts[0])
				assert.Contains(t, headers, "name="+tt.file.FieldName+"; filename="+tt.file.FileName)
				assert.Equal(t, string(tt.file.Content), content)
				offset = 1
			}
			for i, field := range tt.fields {
				headers, content := splitSegment(t, parts[offset+i])
				assert.Contains(t, headers, "name="+field.Name+";")
				assert.Equal(t, field.Value, content)
			}
		})
	}
}

func TestEncode_RoundTripWithMultipartReader(t *testing.T) {
	form := &Form{Boundary: "wL36Yn8afVp8Ag7AmP8qZ0SA4n1v9T"}
	form.Attach("init_image", "pupu.png", []byte("not really a png"))
	form.Add("text_prompt", "").Add("seconds", "10").Add("seed", "").Add("image_as_end_frame", "false")

	body, err := form.Encode()
	require.NoError(t, err)

	reader := multipart.NewReader(bytes.NewReader(body.Bytes), body.Boundary)

	type decoded struct {
		name, filename, contentType, value string
	}
	var got []decoded
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(part)
		require.NoError(t, err)
		got = append(got, decoded{
			name:        part.FormName(),
			filename:    part.FileName(),
			contentType: part.Header.Get("Content-Type"),
			value:       string(content),
		})
	}

	want := []decoded{
		{name: "init_image", filename: "pupu.png", contentType: "image/png", value: "not really a png"},
		{name: "text_prompt", contentType: "text/plain", value: ""},
		{name: "seconds", contentType: "text/plain", value: "10"},
		{name: "seed", contentType: "text/plain", value: ""},
		{name: "image_as_end_frame", contentType: "text/plain", value: "false"},
	}
	assert.Equal(t, want, got)
}

func TestEncode_GeneratedBoundary(t *testing.T) {
	form := &Form{}
	form.Add("seconds", "10")

	first, err := form.Encode()
	require.NoError(t, err)
	require.Len(t, first.Boundary, 60)
	require.NoError(t, ValidateBoundary(first.Boundary))
	assert.True(t, strings.HasSuffix(string(first.Bytes), "--"+first.Boundary+"--\r\n"))

	second, err := form.Encode()
	require.NoError(t, err)
	assert.NotEqual(t, first.Boundary, second.Boundary)
	assert.Empty(t, form.Boundary, "form boundary must stay caller-controlled")
}

func TestEncode_BoundaryCollision(t *testing.T) {
	form := &Form{Boundary: "frame"}
	form.Add("image_as_end_frame", "false")

	_, err := form.Encode()
	require.ErrorIs(t, err, ErrBoundaryInContent)

	form = &Form{Boundary: "XYZ"}
	form.Attach("f", "a.bin", []byte("..XYZ.."))
	_, err = form.Encode()
	require.ErrorIs(t, err, ErrBoundaryInContent)
}

func TestEncode_InvalidNames(t *testing.T) {
	tests := []struct {
		name string
		form *Form
	}{
		{"empty field name", (&Form{Boundary: "b"}).Add("", "v")},
		{"newline in field name", (&Form{Boundary: "b"}).Add("a\r\nX-Injected: 1", "v")},
		{"semicolon in field name", (&Form{Boundary: "b"}).Add("a;b", "v")},
		{"empty file field", (&Form{Boundary: "b"}).Attach("", "a.png", nil)},
		{"newline in filename", (&Form{Boundary: "b"}).Attach("f", "a\n.png", nil)},
		{"space in filename", (&Form{Boundary: "b"}).Attach("init_image", "IMG 0001.png", nil)},
		{"parens in filename", (&Form{Boundary: "b"}).Attach("init_image", "photo(1).png", nil)},
		{"quote in filename", (&Form{Boundary: "b"}).Attach("init_image", `a"b.png`, nil)},
		{"empty filename", (&Form{Boundary: "b"}).Attach("init_image", "", nil)},
		{"non-ascii filename", (&Form{Boundary: "b"}).Attach("init_image", "café.png", nil)},
		{"space in field name", (&Form{Boundary: "b"}).Add("text prompt", "v")},
		{"equals in field name", (&Form{Boundary: "b"}).Add("a=b", "v")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.form.Encode()
			require.ErrorIs(t, err, ErrInvalidName)
		})
	}
}

// TestEncode_NamesParseWithStandardReader checks that every accepted name
// survives a conforming multipart parser.
func TestEncode_NamesParseWithStandardReader(t *testing.T) {
	names := []string{"init_image", "IMG_0001.png", "a-b.c", "x~y!z", "report#1.pdf", "v*2"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			form := (&Form{Boundary: "B"}).Attach(name, name, []byte("x")).Add(name, "v")
			body, err := form.Encode()
			require.NoError(t, err)

			reader := multipart.NewReader(bytes.NewReader(body.Bytes), "B")
			file, err := reader.NextPart()
			require.NoError(t, err)
			assert.Equal(t, name, file.FormName())
			assert.Equal(t, name, file.FileName())

			field, err := reader.NextPart()
			require.NoError(t, err)
			assert.Equal(t, name, field.FormName())
		})
	}
}

func TestValidateBoundary(t *testing.T) {
	valid := []string{"B1", "wL36Yn8afVp8Ag7AmP8qZ0SA4n1v9T", "a'()+_,-./:=?z", "with space", strings.Repeat("x", 70)}
	for _, b := range valid {
		assert.NoError(t, ValidateBoundary(b), b)
	}

	invalid := []string{"", strings.Repeat("x", 71), "trailing ", "semi;colon", "quote\"", "new\nline"}
	for _, b := range invalid {
		assert.ErrorIs(t, ValidateBoundary(b), ErrInvalidBoundary, b)
	}
}

func TestEncode_InvalidBoundaryRejected(t *testing.T) {
	_, err := (&Form{Boundary: "bad;boundary"}).Encode()
	require.ErrorIs(t, err, ErrInvalidBoundary)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"pupu.png", "image/png"},
		{"/Users/apple/Downloads/pupu.png", "image/png"},
		{"photo.JPG", "image/jpeg"},
		{"clip.gif", "image/gif"},
		{"index.html", "text/html"},
		{"noextension", DefaultFileContentType},
		{"archive.zz-not-a-real-ext", DefaultFileContentType},
		{"", DefaultFileContentType},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentTypeFor(tt.filename))
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pupu.png")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3, 4}, 0o600))

	part, err := ReadFile("init_image", path)
	require.NoError(t, err)
	assert.Equal(t, "init_image", part.FieldName)
	assert.Equal(t, "pupu.png", part.FileName)
	assert.Equal(t, []byte{1, 2, 3, 4}, part.Content)

	_, err = ReadFile("init_image", dir)
	assert.Error(t, err)

	_, err = ReadFile("init_image", filepath.Join(dir, "missing.png"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// splitSegment separates a "\r\n<headers>\r\n\r\n<content>\r\n" segment.
func splitSegment(t *testing.T, segment string) (string, string) {
	t.Helper()
	require.True(t, strings.HasPrefix(segment, "\r\n"), "segment %q", segment)
	require.True(t, strings.HasSuffix(segment, "\r\n"), "segment %q", segment)
	segment = strings.TrimSuffix(strings.TrimPrefix(segment, "\r\n"), "\r\n")
	headers, content, ok := strings.Cut(segment, "\r\n\r\n")
	require.True(t, ok, "segment without header terminator: %q", segment)
	return headers, content
}
