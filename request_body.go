package wordpress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// multipartStreamThreshold is the total file size above which multipart bodies are streamed from disk.
const multipartStreamThreshold = 1 << 20

// RequestBody is an encoded request body.
// Open may be called more than once; each call returns an independent reader.
type RequestBody interface {
	ContentType() string

	// Open returns a reader over the body and its length, or -1 if the length is unknown.
	Open() (io.ReadCloser, int64, error)
}

type bytesBody struct {
	contentType string
	data        []byte
}

func newBytesBody(contentType string, data []byte) *bytesBody {
	return &bytesBody{contentType: contentType, data: data}
}

func newJSONBody(v any) (*bytesBody, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json body: %w", err)
	}

	return newBytesBody(contentTypeJSON, b), nil
}

func (body *bytesBody) ContentType() string {
	return body.contentType
}

func (body *bytesBody) Open() (io.ReadCloser, int64, error) {
	return io.NopCloser(bytes.NewReader(body.data)), int64(len(body.data)), nil
}

// Bytes returns the encoded body.
func (body *bytesBody) Bytes() []byte {
	return body.data
}

// encodeForm encodes the fields as application/x-www-form-urlencoded with keys in sorted order.
func encodeForm(fields map[string]string) string {
	parts := make([]string, 0, len(fields))

	for _, key := range sortedKeys(fields) {
		parts = append(parts, percentEncode(key)+"="+percentEncode(fields[key]))
	}

	return strings.Join(parts, "&")
}

// percentEncode escapes every byte outside the RFC 3986 unreserved set.
func percentEncode(s string) string {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if c := s[i]; isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}

	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true

	case c == '-', c == '.', c == '_', c == '~':
		return true

	default:
		return false
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := maps.Keys(m)

	slices.Sort(keys)

	return keys
}

// MultipartField is one field of a multipart body.
// A field with neither Path nor Data set is a text field.
type MultipartField struct {
	Name string
	Text string

	Filename string
	MIMEType string

	// Path is read from disk when the body is written.
	Path string

	// Data is used for in-memory file fields.
	Data []byte
}

func (field MultipartField) isFile() bool {
	return field.Path != "" || field.Data != nil
}

func (field MultipartField) size() (int64, error) {
	if field.Path == "" {
		return int64(len(field.Data)), nil
	}

	info, err := os.Stat(field.Path)
	if err != nil {
		return 0, err
	}

	return info.Size(), nil
}

type multipartBody struct {
	boundary string
	fields   []MultipartField
	length   int64
}

// newMultipartBody encodes small bodies into memory and defers large ones to a streaming reader.
func newMultipartBody(fields []MultipartField) (RequestBody, error) {
	boundary := "wordpress-" + uuid.NewString()

	var fileSize int64

	for _, field := range fields {
		if field.Name == "" {
			return nil, fmt.Errorf("multipart field has no name")
		}

		if !field.isFile() {
			continue
		}

		size, err := field.size()
		if err != nil {
			return nil, fmt.Errorf("failed to stat multipart file %q: %w", field.Name, err)
		}

		fileSize += size
	}

	if fileSize <= multipartStreamThreshold {
		buf := new(bytes.Buffer)

		if err := writeMultipart(buf, boundary, fields, copyFileContent); err != nil {
			return nil, err
		}

		return newBytesBody(multipartContentType(boundary), buf.Bytes()), nil
	}

	counter := new(countingWriter)

	if err := writeMultipart(counter, boundary, fields, counter.skipFile); err != nil {
		return nil, err
	}

	return &multipartBody{
		boundary: boundary,
		fields:   fields,
		length:   counter.n,
	}, nil
}

func (body *multipartBody) ContentType() string {
	return multipartContentType(body.boundary)
}

func (body *multipartBody) Open() (io.ReadCloser, int64, error) {
	pr, pw := io.Pipe()

	go func() {
		pw.CloseWithError(writeMultipart(pw, body.boundary, body.fields, copyFileContent))
	}()

	return pr, body.length, nil
}

func multipartContentType(boundary string) string {
	return "multipart/form-data; boundary=" + boundary
}

type fileWriter func(w io.Writer, field MultipartField) error

func writeMultipart(w io.Writer, boundary string, fields []MultipartField, writeFile fileWriter) error {
	mw := multipart.NewWriter(w)

	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}

	for _, field := range fields {
		if !field.isFile() {
			if err := mw.WriteField(field.Name, field.Text); err != nil {
				return err
			}

			continue
		}

		part, err := mw.CreatePart(fileHeader(field))
		if err != nil {
			return err
		}

		if err := writeFile(part, field); err != nil {
			return fmt.Errorf("failed to write multipart file %q: %w", field.Name, err)
		}
	}

	return mw.Close()
}

func fileHeader(field MultipartField) textproto.MIMEHeader {
	mimeType := field.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)

	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, escapeQuotes(field.Name), escapeQuotes(field.Filename)))
	h.Set("Content-Type", mimeType)

	return h
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func copyFileContent(w io.Writer, field MultipartField) error {
	if field.Path == "" {
		_, err := w.Write(field.Data)
		return err
	}

	f, err := os.Open(field.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)

	return err
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.n += int64(len(b))
	return len(b), nil
}

// skipFile accounts for the file size without reading it; used to measure streamed bodies.
func (w *countingWriter) skipFile(_ io.Writer, field MultipartField) error {
	size, err := field.size()
	if err != nil {
		return err
	}

	w.n += size

	return nil
}
