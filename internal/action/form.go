package action

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// Form is a multipart payload, used when an action carries files.
type Form struct {
	fields []formField
	files  []formFile
}

type formField struct {
	key   string
	value string
}

type formFile struct {
	field    string
	filename string
	r        io.Reader
}

// NewForm returns an empty Form.
func NewForm() *Form {
	return &Form{}
}

// Set appends a text field. Repeated keys are sent repeatedly.
func (f *Form) Set(key, value string) *Form {
	f.fields = append(f.fields, formField{key: key, value: value})
	return f
}

// AddFile appends a file part. The reader is consumed when the call is sent.
func (f *Form) AddFile(field, filename string, r io.Reader) *Form {
	f.files = append(f.files, formFile{field: field, filename: filename, r: r})
	return f
}

// Values returns the text fields grouped by key.
func (f *Form) Values() map[string][]string {
	out := make(map[string][]string, len(f.fields))
	for _, field := range f.fields {
		out[field.key] = append(out[field.key], field.value)
	}
	return out
}

func (f *Form) encode(name, nonce string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range f.fields {
		if err := w.WriteField(field.key, field.value); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return nil, "", err
		}
		if file.r == nil {
			continue
		}
		if _, err := io.Copy(part, file.r); err != nil {
			return nil, "", fmt.Errorf("read form file %q: %w", file.filename, err)
		}
	}

	if err := w.WriteField("action", name); err != nil {
		return nil, "", err
	}
	if nonce != "" {
		if err := w.WriteField(nonceField, nonce); err != nil {
			return nil, "", err
		}
		if err := w.WriteField("args["+nonceField+"]", nonce); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
