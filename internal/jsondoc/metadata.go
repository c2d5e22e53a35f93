// Handles document metadata: version, description, storage and timestamps.

package jsondoc

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// DefaultStorage describes the only backend the Manager implements.
var DefaultStorage = StorageDescriptor{Type: "file", Format: "json", Encryption: "none"}

// Timestamps records when a document was first created and last saved.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" jsonschema:"description=Creation timestamp (UTC)"`
	UpdatedAt time.Time `json:"updated_at" jsonschema:"description=Last update timestamp (UTC)"`
}

// next returns the timestamps to store when saving at now.
//
// CreatedAt is kept and UpdatedAt never goes backwards.
func (t *Timestamps) next(now time.Time) *Timestamps {
	now = now.UTC()
	if t == nil {
		return &Timestamps{CreatedAt: now, UpdatedAt: now}
	}
	n := &Timestamps{CreatedAt: t.CreatedAt.UTC(), UpdatedAt: now}
	if n.UpdatedAt.Before(t.UpdatedAt) {
		n.UpdatedAt = t.UpdatedAt.UTC()
	}
	if n.UpdatedAt.Before(n.CreatedAt) {
		n.UpdatedAt = n.CreatedAt
	}
	return n
}

// StorageDescriptor describes the storage backend. It is informational only.
type StorageDescriptor struct {
	Type       string `json:"type" jsonschema:"description=Storage backend type"`
	Format     string `json:"format" jsonschema:"description=Storage backend format"`
	Encryption string `json:"encryption" jsonschema:"description=Encryption method used"`
}

// Metadata describes a document.
//
// Callers supply Version, Title and Description. Storage and Timestamps are
// maintained by the Manager.
type Metadata struct {
	Version     string             `json:"version" jsonschema:"description=Schema or file version"`
	Title       string             `json:"title" jsonschema:"description=Human-readable title of the file"`
	Description string             `json:"description" jsonschema:"description=Brief description of the file contents"`
	Storage     *StorageDescriptor `json:"storage,omitempty"`
	Timestamps  *Timestamps        `json:"timestamps,omitempty"`
}

// Validate checks that the metadata is well-formed.
func (m *Metadata) Validate() error {
	if m.Version == "" {
		return &ValidationError{Field: "version", Reason: errVersionRequired.Error()}
	}
	if !validVersion(m.Version) {
		return &ValidationError{
			Field:  "version",
			Value:  m.Version,
			Reason: fmt.Sprintf("%q must look like MAJOR.MINOR.PATCH[-pre][+build]", m.Version),
		}
	}
	return nil
}

func (m *Metadata) clone() Metadata {
	c := *m
	if m.Storage != nil {
		s := *m.Storage
		c.Storage = &s
	}
	if m.Timestamps != nil {
		t := *m.Timestamps
		c.Timestamps = &t
	}
	return c
}

// versionRE is the version syntax of the file format. Unlike strict semantic
// versioning it allows leading zeros.
var versionRE = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?(\+[a-zA-Z0-9.]+)?$`)

// validVersion reports whether v is MAJOR.MINOR.PATCH[-pre][+build].
func validVersion(v string) bool {
	return versionRE.MatchString(v)
}

// compareVersions compares two versions that passed validVersion.
func compareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

// canonicalVersion strips leading zeros from numeric identifiers so that
// semver accepts v. Build metadata does not take part in ordering.
func canonicalVersion(v string) string {
	v, _, _ = strings.Cut(v, "+")
	core, pre, hasPre := strings.Cut(v, "-")
	out := "v" + trimNumeric(core)
	if hasPre {
		out += "-" + trimNumeric(pre)
	}
	return out
}

func trimNumeric(s string) string {
	parts := strings.Split(s, ".")
	for i, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			continue
		}
		if p = strings.TrimLeft(p, "0"); p == "" {
			p = "0"
		}
		parts[i] = p
	}
	return strings.Join(parts, ".")
}
