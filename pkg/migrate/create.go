package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileName  = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	nameJunk  = regexp.MustCompile(`[^a-z0-9]+`)
	sqlLayout = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`
)

// Create writes an empty migration named after name into dir. The version is
// now in UTC, bumped past the newest existing migration so two files written
// in the same second still order.
func Create(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(nameJunk.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	versions, err := versions(os.DirFS(dir))
	if err != nil {
		return "", err
	}

	next, _ := strconv.ParseInt(now.UTC().Format(versionLayout), 10, 64)
	for _, v := range versions {
		if v >= next {
			next = v + 1
		}
	}
	full := filepath.Join(dir, fmt.Sprintf("%d_%s.sql", next, slug))
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, sqlLayout, slug); err != nil {
		return "", err
	}
	return full, nil
}

// Validate checks names, unique versions and the goose Up/Down markers of
// every .sql file in fsys.
func Validate(fsys fs.FS) error {
	vs, err := versions(fsys)
	if err != nil {
		return err
	}
	if len(vs) == 0 {
		return errors.New("no migrations found")
	}
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && p != ".":
			return fs.SkipDir
		case d.IsDir() || path.Ext(p) != ".sql":
			return nil
		}
		body, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return fmt.Errorf("%s: missing %q", p, marker)
			}
		}
		return nil
	})
}

// versions lists the versions at the top level of fsys, rejecting badly named
// files and duplicates.
func versions(fsys fs.FS) ([]int64, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	seen := map[int64]string{}
	var out []int64
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		m := fileName.FindStringSubmatch(e.Name())
		if m == nil {
			return nil, fmt.Errorf("%s: want YYYYMMDDHHMMSS_name.sql", e.Name())
		}
		v, _ := strconv.ParseInt(m[1], 10, 64)
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("version %d used by %s and %s", v, prev, e.Name())
		}
		seen[v] = e.Name()
		out = append(out, v)
	}
	return out, nil
}
