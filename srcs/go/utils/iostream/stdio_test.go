package iostream

import (
	"bytes"
	"strings"
	"testing"
)

func Test_Tee(t *testing.T) {
	in := strings.NewReader("a\nb\n")
	var b1, b2 bytes.Buffer
	if err := Tee(in, &b1, &b2); err != nil {
		t.Fatal(err)
	}
	const want = "a\nb\n"
	if got := b1.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := b2.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func Test_SaveFirstWriter(t *testing.T) {
	w := &SaveFirstWriter{}
	w.Write([]byte("first"))
	w.Write([]byte("second"))
	if w.First != "first" {
		t.Errorf("got %q, want %q", w.First, "first")
	}
}

func Test_Stream(t *testing.T) {
	var out, errOut bytes.Buffer
	r := StdReaders{
		Stdout: strings.NewReader("out\n"),
		Stderr: strings.NewReader("err\n"),
	}
	r.Stream(&StdWriters{Stdout: &out, Stderr: &errOut}).Wait()
	if got := out.String(); got != "out\n" {
		t.Errorf("stdout: got %q, want %q", got, "out\n")
	}
	if got := errOut.String(); got != "err\n" {
		t.Errorf("stderr: got %q, want %q", got, "err\n")
	}
}
