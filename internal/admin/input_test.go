package admin

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"secret\n", "secret"},
		{"secret\r\nnext\n", "secret"},
		{"lastline", "lastline"},
		{" spaced \n", " spaced "},
	}
	for _, tt := range tests {
		got, err := readLine(bufio.NewReader(strings.NewReader(tt.in)))
		if err != nil || got != tt.want {
			t.Fatalf("readLine(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestReadLine_Empty(t *testing.T) {
	if _, err := readLine(bufio.NewReader(strings.NewReader(""))); err == nil {
		t.Fatal("expected error")
	}
}

func TestPromptPassword(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) { return []byte("pw"), nil }

	var out bytes.Buffer
	got, err := promptPassword(&out, "Password: ")
	if err != nil || string(got) != "pw" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if out.String() != "Password: \n" {
		t.Fatalf("unexpected prompt output %q", out.String())
	}
}

func TestPromptPassword_Error(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()
	readPassword = func(int) ([]byte, error) { return nil, errors.New("boom") }

	var out bytes.Buffer
	if _, err := promptPassword(&out, "Password: "); err == nil {
		t.Fatal("expected error")
	}
}
