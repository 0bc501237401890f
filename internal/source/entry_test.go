package source

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func decode(t *testing.T, s string) Entry {
	t.Helper()
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return e
}

func TestEntry_Accessors(t *testing.T) {
	e := decode(t, `{
		"@message": "foo",
		"@fields": {"http_url": "http://foo.wikia.com/", "environment": null},
		"@context": {"errno": 1205, "num_rows": "2500", "tags": ["a", 1, "b"], "jira_reporter": true}
	}`)

	if got := e.Str("@fields.http_url"); got != "http://foo.wikia.com/" {
		t.Errorf("Str = %q", got)
	}
	if e.Has("@fields.environment") {
		t.Error("null values must not be reported as present")
	}
	if e.Has("@fields.http_url.foo") {
		t.Error("paths through strings must not resolve")
	}
	if got := e.Str("@context.errno"); got != "1205" {
		t.Errorf("Str(number) = %q", got)
	}
	if n, ok := e.Int("@context.num_rows"); !ok || n != 2500 {
		t.Errorf("Int(numeric string) = %d, %v", n, ok)
	}
	if _, ok := e.Int("@context.missing"); ok {
		t.Error("Int of a missing value should fail")
	}
	if !e.Bool("@context.jira_reporter") {
		t.Error("Bool = false")
	}
	if got := e.StrOr("@fields.server", "n/a"); got != "n/a" {
		t.Errorf("StrOr = %q", got)
	}
	if diff := cmp.Diff([]string{"a", "b"}, e.Strings("@context.tags")); diff != "" {
		t.Errorf("Strings mismatch (-want +got):\n%s", diff)
	}
	if got := e.Map("@context").Str("errno"); got != "1205" {
		t.Errorf("Map = %q", got)
	}
	if e.Map("@message") != nil {
		t.Error("Map of a string should be nil")
	}
}

func TestEntry_DottedKey(t *testing.T) {
	e := Entry{"kubernetes.namespace_name": "prod", "kubernetes": map[string]any{"container_name": "tasks"}}

	if got := e.Str("kubernetes.namespace_name"); got != "prod" {
		t.Errorf("Str(dotted key) = %q", got)
	}
	if got := e.Str("kubernetes.container_name"); got != "tasks" {
		t.Errorf("Str(nested) = %q", got)
	}
}

func TestEntry_JSON(t *testing.T) {
	e := Entry{"@context": map[string]any{"foo": "bar"}}

	if got := e.JSON("@context"); got != "{\n \"foo\": \"bar\"\n}" {
		t.Errorf("JSON = %q", got)
	}
	if got := e.JSON("@fields"); got != "{}" {
		t.Errorf("JSON(absent) = %q", got)
	}
}
