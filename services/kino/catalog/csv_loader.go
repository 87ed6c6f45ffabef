// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/api/option"
)

const gcsScheme = "gs://"

// ObjectOpener opens a gs:// object for reading.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// CSVLoader reads the TMDB 5000 movies CSV export.
//
// Description:
//
//	Required columns: id, title, release_date, overview, genres, keywords,
//	popularity. genres and keywords hold JSON arrays of {"id","name"}
//	objects; malformed JSON yields an empty list for that row. Rows without
//	a title are skipped. Path may be a local file or a gs://bucket/object URL.
//
// Thread Safety: Safe for concurrent use.
type CSVLoader struct {
	path   string
	openGS ObjectOpener
}

// NewCSVLoader creates a loader for path.
func NewCSVLoader(path string) *CSVLoader {
	return &CSVLoader{path: path, openGS: openGCSObject}
}

// WithObjectOpener replaces the gs:// opener. Used by tests.
func (l *CSVLoader) WithObjectOpener(open ObjectOpener) *CSVLoader {
	l.openGS = open
	return l
}

// Source returns the configured path.
func (l *CSVLoader) Source() string {
	return l.path
}

// Load implements Loader.
func (l *CSVLoader) Load(ctx context.Context) ([]*Item, error) {
	ctx, span := otel.Tracer("kino.catalog").Start(ctx, "catalog.CSVLoader.Load")
	defer span.End()
	span.SetAttributes(attribute.String("source", l.path))

	rc, err := l.open(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rc.Close()

	items, err := ParseCSV(rc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

func (l *CSVLoader) open(ctx context.Context) (io.ReadCloser, error) {
	if strings.HasPrefix(l.path, gcsScheme) {
		bucket, object, ok := strings.Cut(strings.TrimPrefix(l.path, gcsScheme), "/")
		if !ok || bucket == "" || object == "" {
			return nil, fmt.Errorf("invalid gcs path %q (want gs://bucket/object)", l.path)
		}
		rc, err := l.openGS(ctx, bucket, object)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", l.path, err)
		}
		return rc, nil
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	return f, nil
}

// gcsReader closes the storage client together with the object reader.
type gcsReader struct {
	*storage.Reader
	client *storage.Client
}

func (r gcsReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.client.Close(); err == nil {
		err = cerr
	}
	return err
}

func openGCSObject(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	client, err := storage.NewClient(ctx, gcsClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	rd, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object gs://%s/%s does not exist: %w", bucket, object, err)
		}
		return nil, err
	}
	return gcsReader{Reader: rd, client: client}, nil
}

// gcsClientOptions reads KINO_GCS_ANONYMOUS (public buckets) and
// KINO_GCS_CREDENTIALS_FILE. With neither set, Application Default
// Credentials apply.
func gcsClientOptions() []option.ClientOption {
	if anon, _ := strconv.ParseBool(os.Getenv("KINO_GCS_ANONYMOUS")); anon {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	if path := os.Getenv("KINO_GCS_CREDENTIALS_FILE"); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

var requiredColumns = []string{"id", "title", "release_date", "overview", "genres", "keywords", "popularity"}

// ParseCSV parses a TMDB movies CSV stream into items in file order.
//
// Outputs:
//   - []*Item: Parsed items.
//   - error: Non-nil if the header is missing a required column or the CSV is malformed.
func ParseCSV(r io.Reader) ([]*Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("csv header is missing column %q", name)
		}
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	var items []*Item
	skipped := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}

		title := strings.TrimSpace(field(rec, "title"))
		if title == "" {
			skipped++
			continue
		}

		id, _ := strconv.ParseInt(strings.TrimSpace(field(rec, "id")), 10, 64)
		popularity, err := strconv.ParseFloat(strings.TrimSpace(field(rec, "popularity")), 64)
		if err != nil {
			popularity = 0
		}

		items = append(items, NewItem(
			id,
			title,
			parseReleaseYear(field(rec, "release_date")),
			field(rec, "overview"),
			parseNameList(field(rec, "genres")),
			parseNameList(field(rec, "keywords")),
			popularity,
		))
	}

	if skipped > 0 {
		slog.Warn("Skipped catalog rows without a title", slog.Int("rows", skipped))
	}
	return items, nil
}

// parseNameList extracts the "name" field of a JSON array of objects.
func parseNameList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

// parseReleaseYear reads the year of a YYYY-MM-DD date. Unparseable dates yield nil.
func parseReleaseYear(raw string) *int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "2006/01/02", "2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			y := t.Year()
			return &y
		}
	}
	return nil
}
