package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/kotae/internal/retriever"
)

func TestSamplingFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		temp *float64
		topP *float64
		max  *int
	}{
		{name: "none given", args: []string{"what treats hypertension"}},
		{name: "zero temperature kept", args: []string{"q", "--temperature", "0"}, temp: ptr(0.0)},
		{name: "all given", args: []string{"--temperature", "0.7", "--top-p", "0.5", "--max-tokens", "64", "q"}, temp: ptr(0.7), topP: ptr(0.5), max: ptr(64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("ask", flag.ContinueOnError)
			sampling := samplingFlags(fs)
			if err := fs.Parse(searchArgsReorder(tt.args)); err != nil {
				t.Fatal(err)
			}
			p := sampling()
			if !reflect.DeepEqual(p.Temperature, tt.temp) {
				t.Errorf("Temperature = %v, want %v", p.Temperature, tt.temp)
			}
			if !reflect.DeepEqual(p.TopP, tt.topP) {
				t.Errorf("TopP = %v, want %v", p.TopP, tt.topP)
			}
			if !reflect.DeepEqual(p.MaxTokens, tt.max) {
				t.Errorf("MaxTokens = %v, want %v", p.MaxTokens, tt.max)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"symptoms of diabetes", "--k", "5"},
			expected: []string{"--k", "5", "symptoms of diabetes"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--k", "5", "symptoms of diabetes"},
			expected: []string{"--k", "5", "symptoms of diabetes"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"symptoms of diabetes"},
			expected: []string{"symptoms of diabetes"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"insulin", "dosing", "--stream", "--json"},
			expected: []string{"--stream", "--json", "insulin", "dosing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"hypertension"}, "hypertension"},
		{"multiple words", []string{"first-line", "treatment"}, "first-line treatment"},
		{"single quoted phrase", []string{"first-line treatment"}, "first-line treatment"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

const entriesJSONL = `{"text":"Thiazide diuretics are first-line for hypertension.","source":"guidelines.pdf","page":3}

{"text":"Metformin is the usual first drug for type 2 diabetes.","source":"guidelines.pdf","page":7}
`

func TestPackIndex_keyword(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	m, err := packIndex(context.Background(), strings.NewReader(entriesJSONL), dir,
		retriever.Manifest{IndexType: retriever.TypeKeyword})
	if err != nil {
		t.Fatalf("packIndex: %v", err)
	}
	if m.Passages != 2 || m.Dimension != 0 {
		t.Errorf("manifest = %+v", m)
	}
	if _, err := os.Stat(filepath.Join(dir, retriever.ManifestFile)); err != nil {
		t.Errorf("manifest not written: %v", err)
	}
}

func TestPackIndex_vectors(t *testing.T) {
	const withVectors = `{"text":"Warfarin needs INR checks.","source":"a.pdf","page":0,"vector":[1,0,0,0]}
{"text":"Heparin is given by injection.","source":"a.pdf","page":1,"vector":[0,1,0,0]}
`
	dir := filepath.Join(t.TempDir(), "index")
	m, err := packIndex(context.Background(), strings.NewReader(withVectors), dir,
		retriever.Manifest{IndexType: retriever.TypeMemory, EmbeddingModel: "test"})
	if err != nil {
		t.Fatalf("packIndex: %v", err)
	}
	if m.Dimension != 4 || m.Passages != 2 {
		t.Errorf("manifest = %+v", m)
	}
}

func TestPackIndex_vectorTypeWithoutVectors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "index")
	_, err := packIndex(context.Background(), strings.NewReader(entriesJSONL), dir,
		retriever.Manifest{IndexType: retriever.TypeMemory})
	if err == nil {
		t.Fatal("expected an error packing a vector index from entries without vectors")
	}
}

func TestPackIndex_badLine(t *testing.T) {
	_, err := packIndex(context.Background(), strings.NewReader("{not json}\n"), filepath.Join(t.TempDir(), "index"),
		retriever.Manifest{IndexType: retriever.TypeKeyword})
	if err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestAskResponse_decode(t *testing.T) {
	var answered askResponse
	if err := json.Unmarshal([]byte(`{"id":"r1","query":"q","answer":"A.","backend":"remote","sources":[]}`), &answered); err != nil {
		t.Fatal(err)
	}
	if answered.NoResults || answered.Answer != "A." || answered.BackendUsed != "remote" {
		t.Errorf("answered = %+v", answered)
	}

	var empty askResponse
	if err := json.Unmarshal([]byte(`{"no_results":true,"message":"No relevant information found"}`), &empty); err != nil {
		t.Fatal(err)
	}
	if !empty.NoResults || empty.Message != "No relevant information found" {
		t.Errorf("empty = %+v", empty)
	}
}
