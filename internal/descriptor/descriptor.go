// Package descriptor implements the package.json-equivalent document stored with
// every published module version.
//
// A Descriptor keeps the document as JSON text so that field order and fields
// the registry does not understand survive a read-modify-write cycle. Fields the
// registry inspects (dist, maintainers, keywords, description, dependencies) have
// typed accessors. Lookups go through gjson and edits through sjson, both of
// which operate on the raw bytes without re-ordering keys.
//
// Two historical storage encodings are accepted when decoding: plain JSON text
// and percent-encoded JSON text (older rows were written through
// encodeURIComponent). Content that cannot be decoded is kept verbatim and the
// descriptor is flagged as malformed instead of failing the read.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// percentEncodedPrefix is `{"` after encodeURIComponent.
const percentEncodedPrefix = "%7B%22"

// PublishedHereField marks a descriptor that was published through this
// registry rather than mirrored from the upstream public registry.
const PublishedHereField = "_publish_on_cnpm"

// ErrMalformed is returned when editing a descriptor whose stored text could
// not be decoded.
var ErrMalformed = errors.New("descriptor is malformed")

// DecodeError describes stored descriptor text that could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to decode descriptor: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("failed to decode descriptor: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Descriptor is an ordered JSON object document.
type Descriptor struct {
	raw       []byte
	malformed bool
}

// Dist is the tarball location, checksum and size of a published version.
type Dist struct {
	Tarball string `json:"tarball"`
	Shasum  string `json:"shasum"`
	Size    int64  `json:"size"`
}

// Person is a maintainer or author entry.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// New returns an empty descriptor ("{}").
func New() Descriptor {
	return Descriptor{raw: []byte("{}")}
}

// FromJSON builds a descriptor from JSON object text.
func FromJSON(b []byte) (Descriptor, error) {
	if !gjson.ValidBytes(b) {
		return Descriptor{}, &DecodeError{Reason: "invalid JSON"}
	}
	if !gjson.ParseBytes(b).IsObject() {
		return Descriptor{}, &DecodeError{Reason: "not a JSON object"}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return Descriptor{raw: cp}, nil
}

// FromMap builds a descriptor from a decoded JSON object. Keys are written in
// sorted order.
func FromMap(m map[string]any) (Descriptor, error) {
	if m == nil {
		return New(), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to encode descriptor: %w", err)
	}
	return Descriptor{raw: b}, nil
}

// MustFromJSON is FromJSON for literals in tests and fixtures.
func MustFromJSON(s string) Descriptor {
	d, err := FromJSON([]byte(s))
	if err != nil {
		panic(err)
	}
	return d
}

// Decode parses stored descriptor text. On failure the returned descriptor
// still holds the original text (see Raw) and is flagged malformed, so callers
// can log the error and keep going.
func Decode(text string) (Descriptor, error) {
	if text == "" {
		return Descriptor{}, nil
	}
	body := text
	if len(body) >= len(percentEncodedPrefix) && strings.EqualFold(body[:len(percentEncodedPrefix)], percentEncodedPrefix) {
		unescaped, err := url.PathUnescape(body)
		if err != nil {
			return Descriptor{raw: []byte(text), malformed: true}, &DecodeError{Reason: "invalid percent-encoding", Err: err}
		}
		body = unescaped
	}
	d, err := FromJSON([]byte(body))
	if err != nil {
		return Descriptor{raw: []byte(text), malformed: true}, err
	}
	return d, nil
}

// Encode returns the text written to storage.
func (d Descriptor) Encode() string {
	if len(d.raw) == 0 {
		return "{}"
	}
	return string(d.raw)
}

// Raw returns the document text, or the undecoded stored text when malformed.
func (d Descriptor) Raw() string { return string(d.raw) }

// Bytes returns the JSON text of a well-formed descriptor.
func (d Descriptor) Bytes() []byte {
	if d.malformed || len(d.raw) == 0 {
		return []byte("{}")
	}
	return d.raw
}

// IsZero reports whether no descriptor was stored at all.
func (d Descriptor) IsZero() bool { return len(d.raw) == 0 }

// IsMalformed reports whether the stored text could not be decoded.
func (d Descriptor) IsMalformed() bool { return d.malformed }

// Get returns the top-level field key.
func (d Descriptor) Get(key string) gjson.Result {
	if d.malformed || len(d.raw) == 0 || key == "" {
		return gjson.Result{}
	}
	return gjson.GetBytes(d.raw, gjson.Escape(key))
}

// Has reports whether the top-level field key is present.
func (d Descriptor) Has(key string) bool {
	return d.Get(key).Exists()
}

// Set returns a copy of d with the top-level field key set to value. Existing
// fields keep their position; new fields are appended.
func (d Descriptor) Set(key string, value any) (Descriptor, error) {
	if d.malformed {
		return d, ErrMalformed
	}
	if key == "" {
		return d, fmt.Errorf("descriptor field name must not be empty")
	}
	base := d.raw
	if len(base) == 0 {
		base = []byte("{}")
	}
	var (
		out []byte
		err error
	)
	if raw, ok := value.(json.RawMessage); ok {
		out, err = sjson.SetRawBytes(base, gjson.Escape(key), raw)
	} else {
		out, err = sjson.SetBytes(base, gjson.Escape(key), value)
	}
	if err != nil {
		return d, fmt.Errorf("failed to set descriptor field %q: %w", key, err)
	}
	return Descriptor{raw: out}, nil
}

// Merge sets every field in fields, in key order.
func (d Descriptor) Merge(fields map[string]any) (Descriptor, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := d
	for _, k := range keys {
		var err error
		out, err = out.Set(k, fields[k])
		if err != nil {
			return d, err
		}
	}
	return out, nil
}

// Map decodes the document into a generic map.
func (d Descriptor) Map() map[string]any {
	m := map[string]any{}
	if d.malformed || len(d.raw) == 0 {
		return m
	}
	_ = json.Unmarshal(d.raw, &m)
	return m
}

// MarshalJSON emits the document as-is. Malformed descriptors are emitted as
// a JSON string holding the raw text.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	if len(d.raw) == 0 {
		return []byte("null"), nil
	}
	if d.malformed {
		return json.Marshal(string(d.raw))
	}
	return d.raw, nil
}

// UnmarshalJSON accepts a JSON object, or null for an empty descriptor.
func (d *Descriptor) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Descriptor{}
		return nil
	}
	nd, err := FromJSON(b)
	if err != nil {
		return err
	}
	*d = nd
	return nil
}

// Name returns the "name" field.
func (d Descriptor) Name() string { return d.Get("name").String() }

// Version returns the "version" field.
func (d Descriptor) Version() string { return d.Get("version").String() }

// Description returns the "description" field, or "" when absent.
func (d Descriptor) Description() string {
	r := d.Get("description")
	if r.Type != gjson.String {
		return ""
	}
	return r.String()
}

// Readme returns the "readme" field.
func (d Descriptor) Readme() string { return d.Get("readme").String() }

// Dist returns the dist descriptor. Missing fields are zero.
func (d Descriptor) Dist() Dist {
	r := d.Get("dist")
	if !r.IsObject() {
		return Dist{}
	}
	return Dist{
		Tarball: r.Get("tarball").String(),
		Shasum:  r.Get("shasum").String(),
		Size:    r.Get("size").Int(),
	}
}

// Keywords returns the normalized keyword list: a single string counts as a
// one-element list, non-string entries are dropped, entries are trimmed and
// blanks are discarded. Returns nil when there is no usable keyword.
func (d Descriptor) Keywords() []string {
	r := d.Get("keywords")
	var candidates []gjson.Result
	switch {
	case r.Type == gjson.String:
		candidates = []gjson.Result{r}
	case r.IsArray():
		candidates = r.Array()
	default:
		return nil
	}

	var words []string
	for _, c := range candidates {
		if c.Type != gjson.String {
			continue
		}
		if w := strings.TrimSpace(c.String()); w != "" {
			words = append(words, w)
		}
	}
	return words
}

// Maintainers returns the embedded maintainers array. Entries without a name
// are skipped.
func (d Descriptor) Maintainers() []Person {
	r := d.Get("maintainers")
	if !r.IsArray() {
		return nil
	}
	var people []Person
	for _, m := range r.Array() {
		name := m.Get("name").String()
		if name == "" {
			continue
		}
		people = append(people, Person{Name: name, Email: m.Get("email").String()})
	}
	return people
}

// MaintainerNames returns the names from Maintainers.
func (d Descriptor) MaintainerNames() []string {
	people := d.Maintainers()
	if len(people) == 0 {
		return nil
	}
	names := make([]string, 0, len(people))
	for _, p := range people {
		names = append(names, p.Name)
	}
	return names
}

// Dependencies returns the names declared under "dependencies", in document
// order.
func (d Descriptor) Dependencies() []string {
	r := d.Get("dependencies")
	if !r.IsObject() {
		return nil
	}
	var names []string
	r.ForEach(func(key, _ gjson.Result) bool {
		if k := key.String(); k != "" {
			names = append(names, k)
		}
		return true
	})
	return names
}

// PublishedHere reports whether the descriptor carries the marker written when
// a version is published through this registry.
func (d Descriptor) PublishedHere() bool {
	r := d.Get(PublishedHereField)
	switch r.Type {
	case gjson.True:
		return true
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return r.Str != ""
	case gjson.JSON:
		return true
	default:
		return false
	}
}
