package router

import (
	"bytes"
	"errors"
	"html"
	"io"
	"net/http"
	"strconv"
)

// Response is what a Handler produces. Body may be nil and is closed once
// written.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
}

// NewResponse builds a buffered response.
func NewResponse(status int, contentType string, body []byte) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(body)))
	return &Response{
		Status: status,
		Header: h,
		Body:   io.NopCloser(bytes.NewReader(body)),
	}
}

// Text builds a plain text response.
func Text(status int, body string) *Response {
	return NewResponse(status, "text/plain; charset=utf-8", []byte(body))
}

// Redirect builds a 302 to location.
func Redirect(location string) *Response {
	body := `Redirecting to <a href="` + html.EscapeString(location) + `">` + html.EscapeString(location) + `</a>...`
	res := NewResponse(http.StatusFound, "text/html; charset=utf-8", []byte(body))
	res.Header.Set("Location", location)
	return res
}

// InsertCookie appends a Set-Cookie header.
func (r *Response) InsertCookie(c *http.Cookie) {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	if v := c.String(); v != "" {
		r.Header.Add("Set-Cookie", v)
	}
}

// RemoveCookie tells the client to drop the named cookie.
func (r *Response) RemoveCookie(name string) {
	r.InsertCookie(&http.Cookie{Name: name, Path: "/", MaxAge: -1})
}

// Cookies parses the Set-Cookie headers of the response.
func (r *Response) Cookies() []*http.Cookie {
	return (&http.Response{Header: r.Header}).Cookies()
}

// Write sends the response and closes its body.
func (r *Response) Write(w http.ResponseWriter) error {
	if r.Body != nil {
		defer r.Body.Close()
	}

	dst := w.Header()
	for k, vv := range r.Header {
		dst[k] = append(dst[k][:0:0], vv...)
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if r.Body == nil {
		return nil
	}
	_, err := io.Copy(w, r.Body)
	return err
}

// StatusError is a handler error carrying the status to respond with.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// Error returns a handler error rendered with status.
func Error(status int, message string) error {
	return &StatusError{Status: status, Message: message}
}

// StatusOf returns the status carried by err, or 500.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) && se.Status > 0 {
		return se.Status
	}
	return http.StatusInternalServerError
}
