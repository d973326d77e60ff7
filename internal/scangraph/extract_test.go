package scangraph

import (
	"slices"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		path     string
		category Category
		language string
	}{
		{"cmd/main.go", CategorySource, "go"},
		{"web/App.tsx", CategorySource, "typescript"},
		{"app.py", CategorySource, "python"},
		{"Service.java", CategorySource, "java"},
		{"api/service.proto", CategorySource, "protobuf"},
		{"templates/index.html", CategoryTemplate, ""},
		{"mail.tmpl", CategoryTemplate, ""},
		{"config/app.yaml", CategoryConfig, ""},
		{"Dockerfile", CategoryConfig, ""},
		{"go.mod", CategoryConfig, ""},
		{"README.md", CategoryDoc, ""},
		{"logo.png", CategoryOther, ""},
	}
	for _, tt := range tests {
		category, language := Classify(tt.path)
		if category != tt.category || language != tt.language {
			t.Errorf("Classify(%q) = (%s, %q), want (%s, %q)", tt.path, category, language, tt.category, tt.language)
		}
	}
}

func TestExtractHints_Routes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		language string
		content  string
		want     []string
	}{
		{
			name:     "go mux and gin",
			path:     "server.go",
			language: "go",
			content: `package server

func routes() {
	mux.HandleFunc("/healthz", health)
	mux.HandleFunc("POST /users", createUser)
	r.GET("/users/:id", getUser)
}
`,
			want: []string{"ANY /healthz", "GET /users/:id", "POST /users"},
		},
		{
			name:     "express",
			path:     "app.js",
			language: "javascript",
			content:  "app.get('/items', list)\nrouter.post(\"/items\", create)\n",
			want:     []string{"GET /items", "POST /items"},
		},
		{
			name:     "flask and fastapi",
			path:     "app.py",
			language: "python",
			content:  "@app.route('/login')\ndef login(): pass\n@router.delete('/items/{id}')\ndef drop(): pass\n",
			want:     []string{"ANY /login", "DELETE /items/{id}"},
		},
		{
			name:     "spring",
			path:     "Orders.java",
			language: "java",
			content:  "@GetMapping(\"/orders\")\n@PostMapping(value = \"/orders\")\n@RequestMapping(\"/api\")\n",
			want:     []string{"ANY /api", "GET /orders", "POST /orders"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := extractHints(tt.path, CategorySource, tt.language, []byte(tt.content))
			if got := hints[HintRoutes]; !slices.Equal(got, tt.want) {
				t.Errorf("routes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractHints_GoMarkers(t *testing.T) {
	src := `package billing

type Invoice struct{}

type store interface{}

func NewInvoice() *Invoice { return nil }

func (i *Invoice) Total() int { return 0 }

func helper() {}
`
	hints := extractHints("billing/invoice.go", CategorySource, "go", []byte(src))
	want := []string{"func:NewInvoice", "func:Total", "package:billing", "type:Invoice"}
	if got := hints[HintMarkers]; !slices.Equal(got, want) {
		t.Errorf("markers = %v, want %v", got, want)
	}
	if !slices.Contains(hints[HintKeywords], "invoice") {
		t.Errorf("keywords = %v, want invoice", hints[HintKeywords])
	}
}

func TestExtractHints_Proto(t *testing.T) {
	src := `syntax = "proto3";
service Payments {
  rpc Charge(ChargeRequest) returns (ChargeReply);
  rpc Refund(RefundRequest) returns (RefundReply);
}
`
	hints := extractHints("api/payments.proto", CategorySource, "protobuf", []byte(src))
	want := []string{"RPC Payments/Charge", "RPC Payments/Refund"}
	if got := hints[HintRoutes]; !slices.Equal(got, want) {
		t.Errorf("routes = %v, want %v", got, want)
	}
}

func TestExtractHints_OpenAPI(t *testing.T) {
	doc := `openapi: "3.0.1"
info:
  title: Pet Store
  version: "1.0"
paths:
  /pets:
    get: {}
    post: {}
  /pets/{id}:
    delete: {}
`
	hints := extractHints("api/openapi.yaml", CategoryConfig, "", []byte(doc))
	want := []string{"DELETE /pets/{id}", "GET /pets", "POST /pets"}
	if got := hints[HintRoutes]; !slices.Equal(got, want) {
		t.Errorf("routes = %v, want %v", got, want)
	}
	if !slices.Contains(hints[HintMarkers], "api:Pet Store") {
		t.Errorf("markers = %v, want api:Pet Store", hints[HintMarkers])
	}

	notAPI := extractHints("openapi.yaml", CategoryConfig, "", []byte("paths:\n  /x:\n    get: {}\n"))
	if len(notAPI[HintRoutes]) != 0 {
		t.Errorf("document without openapi/swagger version should yield no routes, got %v", notAPI[HintRoutes])
	}
}

func TestExtractHints_Templates(t *testing.T) {
	content := "Hello {{ .User.Name }}, see ${app.base_url:http://localhost}\n"
	hints := extractHints("mail.tmpl", CategoryTemplate, "", []byte(content))
	want := []string{"key:app.base_url", "placeholder:User.Name"}
	if got := hints[HintTemplates]; !slices.Equal(got, want) {
		t.Errorf("templates = %v, want %v", got, want)
	}
}

func TestExtractHints_Layout(t *testing.T) {
	layout := `version = 1
keywords = ["Billing", "payments"]

[[root]]
path = "services/api"
kind = "service"

[[root]]
path = "./web"
`
	hints := extractHints(LayoutFile, CategoryConfig, "", []byte(layout))
	if got, want := hints[HintLayout], []string{"root:services/api:service", "root:web"}; !slices.Equal(got, want) {
		t.Errorf("layout = %v, want %v", got, want)
	}
	if got, want := hints[HintKeywords], []string{"billing", "payments"}; !slices.Equal(got, want) {
		t.Errorf("keywords = %v, want %v", got, want)
	}

	broken := extractHints(LayoutFile, CategoryConfig, "", []byte("[[root]\npath="))
	if len(broken[HintLayout]) != 0 {
		t.Errorf("malformed layout should yield no hints, got %v", broken)
	}
}

func TestDedupeSorted(t *testing.T) {
	got := dedupeSorted([]string{"b", "a", "b", "c", "a"})
	if want := []string{"a", "b", "c"}; !slices.Equal(got, want) {
		t.Errorf("dedupeSorted() = %v, want %v", got, want)
	}
}
