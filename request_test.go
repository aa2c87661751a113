package wordpress_test

import (
	"bytes"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	wordpress "github.com/wordpress-mobile/go-wordpress-api"
	"go.uber.org/goleak"
	"golang.org/x/text/language"
)

func readBody(t *testing.T, req *wordpress.Request) ([]byte, int64) {
	t.Helper()

	rc, length, err := req.Body.Open()
	require.NoError(t, err)
	defer rc.Close()

	b, err := io.ReadAll(rc)
	require.NoError(t, err)

	return b, length
}

func TestRequestBuilder_BodyNotAllowed(t *testing.T) {
	_, err := wordpress.NewRequestBuilder("https://example.com").
		Path("/rest/v1.1/me").
		JSONBody(map[string]string{"a": "b"}).
		Build()
	require.ErrorIs(t, err, wordpress.ErrBodyNotAllowed)

	buildErr := new(wordpress.RequestBuildError)
	require.True(t, errors.As(err, &buildErr))
	require.Equal(t, http.MethodGet, buildErr.Method)
}

func TestRequestBuilder_MissingPath(t *testing.T) {
	_, err := wordpress.NewRequestBuilder("https://example.com").Build()
	require.ErrorIs(t, err, wordpress.ErrMissingPath)
}

func TestRequestBuilder_InvalidBase(t *testing.T) {
	_, err := wordpress.NewRequestBuilder("not a url").Path("/me").Build()
	require.ErrorIs(t, err, wordpress.ErrInvalidURL)
}

func TestRequestBuilder_ValueSemantics(t *testing.T) {
	base := wordpress.NewRequestBuilder("https://example.com").Path("/rest/v1.1/sites")

	withQuery := base.Query("number", "10").Header("X-Test", "1")

	plain := mustBuild(t, base)
	require.Empty(t, plain.URL.RawQuery)
	require.Empty(t, plain.Header.Get("X-Test"))

	queried := mustBuild(t, withQuery)
	require.Equal(t, "number=10", queried.URL.RawQuery)
	require.Equal(t, "1", queried.Header.Get("X-Test"))

	// Building twice yields the same request.
	again := mustBuild(t, withQuery)
	require.Equal(t, queried.URL.String(), again.URL.String())
	require.Equal(t, queried.Header, again.Header)
}

func TestRequestBuilder_BuildIsRepeatable(t *testing.T) {
	b := wordpress.NewRequestBuilder("https://example.com").
		Method(http.MethodPost).
		Path("/rest/v1.1/posts/new").
		JSONBody(map[string]any{"title": "Hello", "tags": []string{"a", "b"}})

	first, firstLen := readBody(t, mustBuild(t, b))
	second, secondLen := readBody(t, mustBuild(t, b))

	require.Equal(t, first, second)
	require.Equal(t, firstLen, secondLen)
	require.JSONEq(t, `{"title":"Hello","tags":["a","b"]}`, string(first))
}

func TestRequestBuilder_Path(t *testing.T) {
	tests := []struct {
		name string
		base string
		path string
		want string
	}{
		{name: "relative", base: "https://example.com", path: "rest/v1.1/me", want: "https://example.com/rest/v1.1/me"},
		{name: "base path", base: "https://example.com/api/", path: "/me", want: "https://example.com/api/me"},
		{name: "repeated slashes", base: "https://example.com/", path: "//rest//v1.1///me", want: "https://example.com/rest/v1.1/me"},
		{name: "absolute", base: "https://example.com/api", path: "https://wordpress.com/wp-login.php", want: "https://wordpress.com/wp-login.php"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := mustBuild(t, wordpress.NewRequestBuilder(tt.base).Path(tt.path))
			require.Equal(t, tt.want, req.URL.String())
		})
	}
}

func TestRequestBuilder_AppendPath(t *testing.T) {
	req := mustBuild(t, wordpress.NewRequestBuilder("https://example.com").Path("/rest/v1.1/").AppendPath("/sites/").AppendPath("42"))
	require.Equal(t, "/rest/v1.1/sites/42", req.URL.Path)
}

func TestRequestBuilder_Query(t *testing.T) {
	req := mustBuild(t, wordpress.NewRequestBuilder("https://example.com/?a=1").
		Path("/search?b=2").
		Query("q", "hello world+more").
		Query("tag", "x").
		Query("tag", "y").
		SetQuery("a2", "first").
		SetQuery("a2", "second"))

	require.Equal(t, "a=1&b=2&q=hello%20world%2Bmore&tag=x&tag=y&a2=second", req.URL.RawQuery)

	values, err := url.ParseQuery(req.URL.RawQuery)
	require.NoError(t, err)
	require.Equal(t, "hello world+more", values.Get("q"))
	require.Equal(t, []string{"x", "y"}, values["tag"])
}

func TestRequestBuilder_Locale(t *testing.T) {
	b := wordpress.NewRequestBuilder("https://example.com").Path("/me").Locale(language.MustParse("pt-BR"))

	require.Equal(t, "locale=pt-br", mustBuild(t, b).URL.RawQuery)

	// The last locale wins.
	require.Equal(t, "locale=fr", mustBuild(t, b.Locale(language.French)).URL.RawQuery)

	// An undetermined locale removes it.
	require.Empty(t, mustBuild(t, b.Locale(language.Und)).URL.RawQuery)
}

func TestRequestBuilder_FormBody(t *testing.T) {
	form := map[string]string{
		"username": "user@example.com",
		"password": "p&ss=wörd +/",
		"empty":    "",
	}

	b := wordpress.NewRequestBuilder("https://example.com").Method(http.MethodPost).Path("/oauth2/token").FormBody(form)

	req := mustBuild(t, b)
	require.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))

	body, length := readBody(t, req)
	require.Equal(t, int64(len(body)), length)

	// Keys are sorted and every reserved character is escaped.
	require.Equal(t, "empty=&password=p%26ss%3Dw%C3%B6rd%20%2B%2F&username=user%40example.com", string(body))

	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)

	for key, val := range form {
		require.Equal(t, val, values.Get(key))
	}

	// Changing the map afterwards does not change the builder.
	form["username"] = "other"

	again, _ := readBody(t, mustBuild(t, b))
	require.Equal(t, body, again)
}

func readMultipart(t *testing.T, req *wordpress.Request) map[string]*multipartPart {
	t.Helper()

	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	rc, length, err := req.Body.Open()
	require.NoError(t, err)
	defer rc.Close()

	counted := &countingReader{r: rc}

	parts := make(map[string]*multipartPart)

	mr := multipart.NewReader(counted, params["boundary"])

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		data, err := io.ReadAll(part)
		require.NoError(t, err)

		parts[part.FormName()] = &multipartPart{
			filename: part.FileName(),
			mimeType: part.Header.Get("Content-Type"),
			data:     data,
		}
	}

	// Drain the epilogue so the whole body is counted.
	_, err = io.Copy(io.Discard, counted)
	require.NoError(t, err)
	require.Equal(t, length, counted.n)

	return parts
}

type multipartPart struct {
	filename string
	mimeType string
	data     []byte
}

type countingReader struct {
	r io.Reader
	n int64
}

func (r *countingReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	r.n += int64(n)

	return n, err
}

func TestRequestBuilder_MultipartBody(t *testing.T) {
	req := mustBuild(t, wordpress.NewRequestBuilder("https://example.com").
		Method(http.MethodPost).
		Path("/rest/v1.1/sites/1/media/new").
		MultipartBody(
			wordpress.MultipartField{Name: "attrs", Text: "caption"},
			wordpress.MultipartField{Name: "media[]", Filename: `a "quoted".png`, MIMEType: "image/png", Data: []byte("png data")},
		))

	parts := readMultipart(t, req)
	require.Len(t, parts, 2)

	require.Equal(t, "caption", string(parts["attrs"].data))

	require.Equal(t, `a "quoted".png`, parts["media[]"].filename)
	require.Equal(t, "image/png", parts["media[]"].mimeType)
	require.Equal(t, "png data", string(parts["media[]"].data))
}

func TestRequestBuilder_MultipartBody_Streamed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	content := bytes.Repeat([]byte("0123456789abcdef"), 1<<17)

	path := filepath.Join(t.TempDir(), "large.bin")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	b := wordpress.NewRequestBuilder("https://example.com").
		Method(http.MethodPost).
		Path("/rest/v1.1/sites/1/media/new").
		MultipartBody(wordpress.MultipartField{Name: "media[]", Filename: "large.bin", Path: path})

	req := mustBuild(t, b)

	// The body can be read more than once; each read streams the file again.
	for i := 0; i < 2; i++ {
		parts := readMultipart(t, req)
		require.Equal(t, "application/octet-stream", parts["media[]"].mimeType)
		require.Equal(t, content, parts["media[]"].data)
	}
}

func TestRequestBuilder_MultipartBody_MissingFile(t *testing.T) {
	_, err := wordpress.NewRequestBuilder("https://example.com").
		Method(http.MethodPost).
		Path("/upload").
		MultipartBody(wordpress.MultipartField{Name: "media[]", Path: filepath.Join(t.TempDir(), "missing")}).
		Build()
	require.ErrorIs(t, err, os.ErrNotExist)
}
