package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

const (
	maxImageBytes  = 5 << 20
	maxBodyBytes   = maxImageBytes + 1<<20
	formFieldPhoto = "photo"
	formFieldImage = "image"
)

// bodyError is a client mistake in the request body. field is empty when
// the body as a whole is unusable.
type bodyError struct {
	field   string
	message string
}

func (e *bodyError) Error() string {
	return e.message
}

var errInvalidBody = &bodyError{message: "Invalid request body"}

// formFile is an uploaded file held in memory.
type formFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// requestBody is a JSON or multipart request flattened to string fields.
// JSON numbers and booleans keep their literal text and nested objects are
// kept as raw JSON.
type requestBody struct {
	fields map[string]string
	file   *formFile
}

func (b requestBody) has(key string) bool {
	_, ok := b.fields[key]
	return ok
}

func (b requestBody) get(key string) string {
	return strings.TrimSpace(b.fields[key])
}

// optional returns a pointer to the trimmed field, or nil when absent.
func (b requestBody) optional(key string) *string {
	if !b.has(key) {
		return nil
	}
	v := b.get(key)
	return &v
}

// readBody parses r as multipart (reading fileField) or JSON. An empty
// body yields no fields.
func readBody(w http.ResponseWriter, r *http.Request, fileField string) (requestBody, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return readMultipart(r, fileField)
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return requestBody{}, errInvalidBody
		}
		return requestBody{fields: firstValues(r.PostForm)}, nil
	default:
		return readJSON(r.Body)
	}
}

func readJSON(body io.Reader) (requestBody, error) {
	raw := map[string]json.RawMessage{}
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return requestBody{fields: map[string]string{}}, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return requestBody{}, &bodyError{message: "Request body too large"}
		}
		return requestBody{}, errInvalidBody
	}

	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		text := strings.TrimSpace(string(value))
		if text == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			fields[key] = s
			continue
		}
		fields[key] = text
	}
	return requestBody{fields: fields}, nil
}

func readMultipart(r *http.Request, fileField string) (requestBody, error) {
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return requestBody{}, &bodyError{field: fileField, message: "Image must be 5MB or smaller"}
		}
		return requestBody{}, errInvalidBody
	}

	body := requestBody{fields: firstValues(r.MultipartForm.Value)}

	files := r.MultipartForm.File[fileField]
	if len(files) == 0 {
		return body, nil
	}
	if len(files) > 1 {
		return requestBody{}, &bodyError{field: fileField, message: "Only one image is allowed"}
	}

	file, err := readImageFile(files[0])
	if err != nil {
		return requestBody{}, err
	}
	body.file = file
	return body, nil
}

func readImageFile(header *multipart.FileHeader) (*formFile, error) {
	if header.Size > maxImageBytes {
		return nil, &bodyError{field: formFieldName(header), message: "Image must be 5MB or smaller"}
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := readFileLimited(f, maxImageBytes)
	if err != nil {
		return nil, &bodyError{field: formFieldName(header), message: "Image must be 5MB or smaller"}
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, &bodyError{field: formFieldName(header), message: "Only image files are allowed"}
	}
	return &formFile{Filename: header.Filename, ContentType: contentType, Data: data}, nil
}

func formFieldName(header *multipart.FileHeader) string {
	if name := header.Header.Get("Content-Disposition"); name != "" {
		if _, params, err := mime.ParseMediaType(name); err == nil && params["name"] != "" {
			return params["name"]
		}
	}
	return "file"
}

func readFileLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file exceeds %d bytes", limit)
	}
	return data, nil
}

func firstValues(values map[string][]string) map[string]string {
	fields := make(map[string]string, len(values))
	for key, vs := range values {
		if len(vs) > 0 {
			fields[key] = vs[0]
		}
	}
	return fields
}

// writeBodyError replies 400 for a bodyError and 500 otherwise.
func writeBodyError(w http.ResponseWriter, r *http.Request, err error) {
	var be *bodyError
	if errors.As(err, &be) {
		if be.field == "" {
			writeError(w, http.StatusBadRequest, be.message)
			return
		}
		writeValidationError(w, map[string][]string{be.field: {be.message}})
		return
	}
	writeServerError(w, r, err, "Failed to read request")
}
