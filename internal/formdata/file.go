package formdata

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// DefaultFileContentType is used when the file extension is unknown.
const DefaultFileContentType = "application/octet-stream"

// ContentTypeFor infers a media type from the extension of filename.
// Parameters such as charset are dropped.
func ContentTypeFor(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return DefaultFileContentType
	}
	typ := mime.TypeByExtension(ext)
	if typ == "" {
		return DefaultFileContentType
	}
	mediaType, _, err := mime.ParseMediaType(typ)
	if err != nil {
		return DefaultFileContentType
	}
	return mediaType
}

// ReadFile loads the file at path as a FilePart. Only the base name of path is
// sent as the filename.
func ReadFile(fieldName, path string) (*FilePart, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("formdata: %s is a directory", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return &FilePart{
		FieldName: fieldName,
		FileName:  filepath.Base(path),
		Content:   content,
	}, nil
}
