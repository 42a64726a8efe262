package transport

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"

	"marketplace/internal/domain"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/google/uuid"
)

// multipartMemory is the part of a multipart body kept in memory; the rest spills to temp files
const multipartMemory = 8 << 20

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseMultipart parses a multipart body no larger than maxBytes
func parseMultipart(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return domain.NewError(domain.ErrValidation, fmt.Sprintf("invalid multipart body: %v", err))
	}
	return nil
}

// formValue returns the first non-empty value among keys and whether any key was sent
func formValue(form *multipart.Form, keys ...string) (string, bool) {
	for _, key := range keys {
		if values, ok := form.Value[key]; ok && len(values) > 0 {
			return strings.TrimSpace(values[0]), true
		}
	}
	return "", false
}

func formValues(form *multipart.Form, keys ...string) ([]string, bool) {
	var out []string
	sent := false
	for _, key := range keys {
		values, ok := form.Value[key]
		if !ok {
			continue
		}
		sent = true
		for _, v := range values {
			// keepImageIds may arrive repeated or comma separated
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
		}
	}
	return out, sent
}

func formFiles(form *multipart.Form, keys ...string) []*multipart.FileHeader {
	var out []*multipart.FileHeader
	for _, key := range keys {
		out = append(out, form.File[key]...)
	}
	return out
}

func toUploads(files []*multipart.FileHeader) []service.Upload {
	uploads := make([]service.Upload, len(files))
	for i, fh := range files {
		uploads[i] = service.Upload{
			Filename: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		}
	}
	return uploads
}

func parseIntField(name, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, domain.NewError(domain.ErrValidation, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func parseInt64Field(name, value string) (int64, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.ErrValidation, fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

func parseUUIDField(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, domain.NewError(domain.ErrValidation, fmt.Sprintf("%s must be a valid id", name))
	}
	return id, nil
}

func parseUUIDs(name string, values []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(values))
	for _, v := range values {
		id, err := parseUUIDField(name, v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parsePagination reads skip and limit from the query string
func parsePagination(r *http.Request) (repository.Pagination, error) {
	var page repository.Pagination
	q := r.URL.Query()
	if v := q.Get("skip"); v != "" {
		skip, err := parseIntField("skip", v)
		if err != nil {
			return page, err
		}
		if skip < 0 {
			return page, domain.NewError(domain.ErrValidation, "skip must not be negative")
		}
		page.Skip = skip
	}
	if v := q.Get("limit"); v != "" {
		limit, err := parseIntField("limit", v)
		if err != nil {
			return page, err
		}
		if limit < 1 || limit > repository.MaxPageLimit {
			return page, domain.NewError(domain.ErrValidation, fmt.Sprintf("limit must be between 1 and %d", repository.MaxPageLimit))
		}
		page.Limit = limit
	}
	return page, nil
}

// principalFrom returns the caller or the zero principal for anonymous requests
func principalFrom(r *http.Request) domain.Principal {
	principal, _ := middleware.GetPrincipal(r.Context())
	return principal
}

// clientID identifies the viewer for view throttling: the user id when
// authenticated, otherwise the client address without its port.
func clientID(r *http.Request) string {
	if userID, ok := middleware.GetUserID(r.Context()); ok {
		return "user:" + userID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
