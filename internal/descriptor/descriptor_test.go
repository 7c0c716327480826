package descriptor

import (
	"errors"
	"net/url"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

func TestDecode_PlainJSON(t *testing.T) {
	d, err := Decode(`{"name":"a","version":"1.0.0"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.IsMalformed() {
		t.Fatal("expected well-formed descriptor")
	}
	if d.Name() != "a" || d.Version() != "1.0.0" {
		t.Errorf("name/version = %q/%q, want a/1.0.0", d.Name(), d.Version())
	}
}

func TestDecode_PercentEncoded(t *testing.T) {
	plain := `{"name":"@scope/pkg","description":"hello world","keywords":["x"]}`
	encoded := url.PathEscape(plain)
	if encoded[:6] != "%7B%22" {
		t.Fatalf("fixture does not start with the encoded prefix: %s", encoded[:6])
	}

	d, err := Decode(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Name() != "@scope/pkg" {
		t.Errorf("Name = %q, want @scope/pkg", d.Name())
	}
	if d.Description() != "hello world" {
		t.Errorf("Description = %q, want hello world", d.Description())
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"truncated", `{"name":"a"`},
		{"not an object", `"just a string"`},
		{"bad percent escape", "%7B%22name%ZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Decode(tt.text)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("error %T is not a *DecodeError", err)
			}
			if !d.IsMalformed() {
				t.Error("expected malformed descriptor")
			}
			if d.Raw() != tt.text {
				t.Errorf("Raw = %q, want original text %q", d.Raw(), tt.text)
			}
			if d.Name() != "" {
				t.Error("accessors on malformed descriptor must return zero values")
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	d, err := Decode("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Error("expected zero descriptor")
	}
	if d.Encode() != "{}" {
		t.Errorf("Encode = %q, want {}", d.Encode())
	}
}

// ---------------------------------------------------------------------------
// Set / Merge
// ---------------------------------------------------------------------------

func TestSet_PreservesFieldOrder(t *testing.T) {
	d := MustFromJSON(`{"name":"a","version":"1.0.0","description":"old"}`)

	d, err := d.Set("description", "new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d, err = d.Set("readme", "# a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"name":"a","version":"1.0.0","description":"new","readme":"# a"}`
	if d.Encode() != want {
		t.Errorf("Encode = %s, want %s", d.Encode(), want)
	}
}

func TestSet_KeyWithPathCharacters(t *testing.T) {
	d := New()
	d, err := d.Set("dist-tags.latest", "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Encode() != `{"dist-tags.latest":"1.0.0"}` {
		t.Errorf("Encode = %s", d.Encode())
	}
	if d.Get("dist-tags.latest").String() != "1.0.0" {
		t.Error("Get did not find dotted key")
	}
}

func TestSet_Malformed(t *testing.T) {
	d, _ := Decode("{broken")
	if _, err := d.Set("a", 1); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestSet_DoesNotMutateReceiver(t *testing.T) {
	orig := MustFromJSON(`{"a":1}`)
	if _, err := orig.Set("a", 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if orig.Encode() != `{"a":1}` {
		t.Errorf("receiver changed: %s", orig.Encode())
	}
}

func TestMerge(t *testing.T) {
	d := MustFromJSON(`{"name":"a","description":"d"}`)
	d, err := d.Merge(map[string]any{
		"description": "merged",
		"license":     "MIT",
		"bin":         map[string]string{"a": "./a.js"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Description() != "merged" {
		t.Errorf("Description = %q", d.Description())
	}
	if d.Get("license").String() != "MIT" {
		t.Error("license not merged")
	}
	if d.Get("bin").Get("a").String() != "./a.js" {
		t.Error("bin not merged")
	}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func TestKeywords(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"array", `{"keywords":["x","y"]}`, []string{"x", "y"}},
		{"single string", `{"keywords":"solo"}`, []string{"solo"}},
		{"trim and drop blanks", `{"keywords":[" a ","", "  ","b"]}`, []string{"a", "b"}},
		{"non-string entries dropped", `{"keywords":[1,{"k":"v"},"ok",null]}`, []string{"ok"}},
		{"missing", `{}`, nil},
		{"wrong type", `{"keywords":42}`, nil},
		{"all blank", `{"keywords":[" "]}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustFromJSON(tt.doc).Keywords()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Keywords = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDist(t *testing.T) {
	d := MustFromJSON(`{"dist":{"tarball":"u","shasum":"s","size":10}}`)
	want := Dist{Tarball: "u", Shasum: "s", Size: 10}
	if d.Dist() != want {
		t.Errorf("Dist = %+v, want %+v", d.Dist(), want)
	}
	if (New().Dist() != Dist{}) {
		t.Error("expected zero dist for empty descriptor")
	}
}

func TestMaintainerNames(t *testing.T) {
	d := MustFromJSON(`{"maintainers":[{"name":"alice","email":"a@x"},{"email":"nobody@x"},{"name":"bob"}]}`)
	got := d.MaintainerNames()
	want := []string{"alice", "bob"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MaintainerNames = %v, want %v", got, want)
	}
	if New().MaintainerNames() != nil {
		t.Error("expected nil for missing maintainers")
	}
}

func TestDependencies_DocumentOrder(t *testing.T) {
	d := MustFromJSON(`{"dependencies":{"zeta":"^1.0.0","alpha":"~2.0.0","@s/m":"*"}}`)
	got := d.Dependencies()
	want := []string{"zeta", "alpha", "@s/m"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Dependencies = %v, want %v", got, want)
	}
}

func TestPublishedHere(t *testing.T) {
	tests := []struct {
		doc  string
		want bool
	}{
		{`{"_publish_on_cnpm":true}`, true},
		{`{"_publish_on_cnpm":1}`, true},
		{`{"_publish_on_cnpm":"yes"}`, true},
		{`{"_publish_on_cnpm":false}`, false},
		{`{"_publish_on_cnpm":0}`, false},
		{`{"_publish_on_cnpm":""}`, false},
		{`{}`, false},
	}
	for _, tt := range tests {
		if got := MustFromJSON(tt.doc).PublishedHere(); got != tt.want {
			t.Errorf("PublishedHere(%s) = %v, want %v", tt.doc, got, tt.want)
		}
	}
}

func TestDescription_NonString(t *testing.T) {
	if got := MustFromJSON(`{"description":{"a":1}}`).Description(); got != "" {
		t.Errorf("Description = %q, want empty", got)
	}
}

// ---------------------------------------------------------------------------
// MarshalJSON
// ---------------------------------------------------------------------------

func TestMarshalJSON_Malformed(t *testing.T) {
	d, _ := Decode("{oops")
	b, err := d.MarshalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != `"{oops"` {
		t.Errorf("MarshalJSON = %s", b)
	}
}
