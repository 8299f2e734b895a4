package tools

import (
	"reflect"
	"testing"
)

func testContext() TemplateContext {
	return TemplateContext{
		Member: map[string]any{
			"id":         "mem-1",
			"first_name": "Léa",
			"email":      "lea@example.com",
		},
		Gym: map[string]any{
			"id":   "gym-1",
			"name": "Iron Temple",
		},
		Args: map[string]any{
			"slot":  "18:00",
			"count": float64(3),
		},
		Session: map[string]any{
			"id": "sess-1",
		},
	}
}

func TestRenderTemplateResolvesNamespaceFields(t *testing.T) {
	got := RenderTemplate("Hello {{member.first_name}}, welcome to {{gym.name}} at {{args.slot}}", testContext())
	want := "Hello Léa, welcome to Iron Temple at 18:00"
	if got != want {
		t.Fatalf("RenderTemplate() = %q, want %q", got, want)
	}
}

func TestRenderTemplateLeavesUnknownRootVerbatim(t *testing.T) {
	got := RenderTemplate("token={{secrets.token}} email={{member.email}}", testContext())
	want := "token={{secrets.token}} email=lea@example.com"
	if got != want {
		t.Fatalf("RenderTemplate() = %q, want %q", got, want)
	}
}

func TestRenderTemplateLeavesMissingLeafVerbatim(t *testing.T) {
	got := RenderTemplate("{{member.shoe_size}}", testContext())
	if got != "{{member.shoe_size}}" {
		t.Fatalf("RenderTemplate() = %q, want placeholder untouched", got)
	}
}

func TestRenderTemplateFormatsNumbers(t *testing.T) {
	got := RenderTemplate("n={{args.count}}", testContext())
	if got != "n=3" {
		t.Fatalf("RenderTemplate() = %q, want n=3", got)
	}
}

func TestRenderTemplateBareRootUnresolved(t *testing.T) {
	got := RenderTemplate("{{member}}", testContext())
	if got != "{{member}}" {
		t.Fatalf("RenderTemplate() = %q, want placeholder untouched", got)
	}
}

func TestBindQueryTemplate(t *testing.T) {
	stmt, args := BindQueryTemplate(
		"SELECT * FROM visits WHERE member_id = {{member.id}} AND gym_id = {{gym.id}} AND member_id = {{member.id}}",
		testContext())
	want := "SELECT * FROM visits WHERE member_id = $1 AND gym_id = $2 AND member_id = $1"
	if stmt != want {
		t.Fatalf("statement = %q, want %q", stmt, want)
	}
	if !reflect.DeepEqual(args, []any{"mem-1", "gym-1"}) {
		t.Fatalf("args = %v, want [mem-1 gym-1]", args)
	}
}

func TestBindQueryTemplateUnresolvedBindsNull(t *testing.T) {
	stmt, args := BindQueryTemplate("SELECT 1 WHERE x = {{secrets.token}}", testContext())
	if stmt != "SELECT 1 WHERE x = $1" {
		t.Fatalf("statement = %q", stmt)
	}
	if len(args) != 1 || args[0] != nil {
		t.Fatalf("args = %v, want single nil", args)
	}
}

func TestCheckTemplateVars(t *testing.T) {
	ok := []string{
		"plain text without placeholders",
		"https://api.example.com/members/{{member.id}}?slot={{args.slot}}",
		"{{gym.name}} {{session.id}}",
		"{{member.not_a_field}}", // known root, missing leaf: render-time concern
	}
	for _, tmpl := range ok {
		if err := CheckTemplateVars(tmpl); err != nil {
			t.Fatalf("CheckTemplateVars(%q) error = %v, want nil", tmpl, err)
		}
	}

	bad := []string{
		"{{secrets.api_key}}",
		"Bearer {{env.OPENAI_API_KEY}}",
		"{{member.id}} then {{config.database_url}}",
	}
	for _, tmpl := range bad {
		if err := CheckTemplateVars(tmpl); err == nil {
			t.Fatalf("CheckTemplateVars(%q) = nil, want namespace rejection", tmpl)
		}
	}
}

func TestCheckDescriptorTemplatesCoversHeaders(t *testing.T) {
	d := Descriptor{
		Kind: KindREST,
		REST: &RESTConfig{
			URL:     "https://api.example.com/book",
			Headers: map[string]string{"Authorization": "Bearer {{vault.token}}"},
		},
	}
	if err := CheckDescriptorTemplates(d); err == nil {
		t.Fatal("CheckDescriptorTemplates() = nil, want header namespace rejection")
	}
	d.REST.Headers = map[string]string{"X-Member": "{{member.badge_id}}"}
	if err := CheckDescriptorTemplates(d); err != nil {
		t.Fatalf("CheckDescriptorTemplates() error = %v, want nil", err)
	}
}
