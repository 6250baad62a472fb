package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Hello, world!", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: %d %d %d", len(ids), len(attn), len(types))
	}
	if ids[0] != tokenCLS || ids[3] != tokenSEP {
		t.Errorf("expected CLS ... SEP, got %v", ids)
	}
	for i, want := range []int64{1, 1, 1, 1, 0} {
		if attn[i] != want {
			t.Errorf("attention[%d]=%d, want %d", i, attn[i], want)
		}
	}
	for _, id := range ids[1:3] {
		if id < firstWordID || id >= vocabSize {
			t.Errorf("word id %d outside vocabulary range", id)
		}
	}
	again, _, _ := tok.Tokenize("hello WORLD", 10)
	if !reflect.DeepEqual(ids, again) {
		t.Error("tokenization should ignore case and punctuation")
	}
}

func TestSimpleTokenizer_Truncates(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, _ := tok.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 {
		t.Fatalf("len=%d", len(ids))
	}
	if ids[3] != tokenSEP || attn[3] != 1 {
		t.Errorf("last slot should be SEP: %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	words := SplitWords("  Blood-pressure, 120/80  mmHg ")
	want := []string{"blood", "pressure", "120", "80", "mmhg"}
	if !reflect.DeepEqual(words, want) {
		t.Errorf("got %v, want %v", words, want)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") == 0 {
		t.Error("hash should be non-zero")
	}
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("a very long string that overflows the accumulator many times over") < 0 {
		t.Error("hash should be non-negative")
	}
}
