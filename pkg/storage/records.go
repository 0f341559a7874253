package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// InvalidNameError reports an unusable record or file name.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("storage: invalid name %q: %s", e.Name, e.Reason)
}

// Records manages named records on top of a [Store]. A record is the marker
// key "<name>/" plus every file key "<name>/<file>".
type Records struct {
	store Store
}

// NewRecords returns a Records view over s.
func NewRecords(s Store) *Records {
	return &Records{store: s}
}

// Store returns the underlying store.
func (r *Records) Store() Store { return r.store }

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &InvalidNameError{Name: name, Reason: "must contain at least one non-space character"}
	}
	if strings.Contains(name, "/") {
		return "", &InvalidNameError{Name: name, Reason: "cannot contain slashes"}
	}
	return name, nil
}

func recordKey(name string) string { return name + "/" }

// fileKey validates both names and returns the cleaned record name and the
// key of file inside it.
func fileKey(record, file string) (string, string, error) {
	record, err := cleanName(record)
	if err != nil {
		return "", "", err
	}
	file, err = cleanName(file)
	if err != nil {
		return "", "", err
	}
	return record, recordKey(record) + file, nil
}

// CreateRecord creates an empty record. It returns ErrConflict when a record
// of that name already exists.
func (r *Records) CreateRecord(ctx context.Context, name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	_, err = r.store.Head(ctx, recordKey(name))
	switch {
	case err == nil:
		return "", fmt.Errorf("storage: create record %q: %w", name, ErrConflict)
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("storage: create record %q: %w", name, err)
	}
	if err := r.store.Put(ctx, recordKey(name), nil, PutOptions{IfNoneMatch: true}); err != nil {
		return "", fmt.Errorf("storage: create record %q: %w", name, err)
	}
	return name, nil
}

// EnsureRecord creates the record unless it already exists.
func (r *Records) EnsureRecord(ctx context.Context, name string) (string, error) {
	created, err := r.CreateRecord(ctx, name)
	if errors.Is(err, ErrConflict) {
		return strings.TrimSpace(name), nil
	}
	return created, err
}

// ListRecords returns the names of all records, sorted.
func (r *Records) ListRecords(ctx context.Context) ([]string, error) {
	objs, err := r.store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("storage: list records: %w", err)
	}
	seen := make(map[string]struct{})
	for _, o := range objs {
		name, _, ok := strings.Cut(o.Key, "/")
		if !ok || name == "" {
			continue
		}
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// AddFile stores body as file inside record. The record must exist.
func (r *Records) AddFile(ctx context.Context, record, file string, body []byte, contentType string) (Object, error) {
	record, key, err := fileKey(record, file)
	if err != nil {
		return Object{}, err
	}
	if _, err := r.store.Head(ctx, recordKey(record)); err != nil {
		return Object{}, fmt.Errorf("storage: add file to %q: %w", record, err)
	}
	if err := r.store.Put(ctx, key, body, PutOptions{ContentType: contentType}); err != nil {
		return Object{}, fmt.Errorf("storage: add file %q: %w", key, err)
	}
	return r.store.Head(ctx, key)
}

// Files lists the files of a record, excluding the record marker.
func (r *Records) Files(ctx context.Context, record string) ([]Object, error) {
	record, err := cleanName(record)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.Head(ctx, recordKey(record)); err != nil {
		return nil, fmt.Errorf("storage: files of %q: %w", record, err)
	}
	objs, err := r.store.List(ctx, recordKey(record))
	if err != nil {
		return nil, fmt.Errorf("storage: files of %q: %w", record, err)
	}
	files := objs[:0]
	for _, o := range objs {
		if o.Key != recordKey(record) {
			files = append(files, o)
		}
	}
	return files, nil
}

// File returns the content of one file.
func (r *Records) File(ctx context.Context, record, file string) ([]byte, Object, error) {
	_, key, err := fileKey(record, file)
	if err != nil {
		return nil, Object{}, err
	}
	return r.store.Get(ctx, key)
}

// DeleteFile removes one file from a record.
func (r *Records) DeleteFile(ctx context.Context, record, file string) error {
	_, key, err := fileKey(record, file)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("storage: delete file %q from %q: %w", file, record, err)
	}
	return nil
}

// DeleteRecord removes a record and all of its files.
func (r *Records) DeleteRecord(ctx context.Context, record string) error {
	record, err := cleanName(record)
	if err != nil {
		return err
	}
	objs, err := r.store.List(ctx, recordKey(record))
	if err != nil {
		return fmt.Errorf("storage: delete record %q: %w", record, err)
	}
	if len(objs) == 0 {
		return fmt.Errorf("storage: delete record %q: %w", record, ErrNotFound)
	}
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	if err := r.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("storage: delete record %q: %w", record, err)
	}
	return nil
}

// SaveTranscript archives a session transcript as "<sessionID>.txt" inside
// record, creating the record when needed.
func (r *Records) SaveTranscript(ctx context.Context, record, sessionID, text string) (Object, error) {
	record, err := r.EnsureRecord(ctx, record)
	if err != nil {
		return Object{}, err
	}
	return r.AddFile(ctx, record, sessionID+".txt", []byte(text), "text/plain; charset=utf-8")
}
