package queue

import "testing"

func TestFileStem(t *testing.T) {
	cases := map[string]string{
		"/media/shows/foo_s01_ep02.mp4": "foo_s01_ep02",
		"movie.mkv":                     "movie",
		"no_extension":                  "no_extension",
		"/a/b/c.tar.gz":                 "c.tar",
	}
	for in, want := range cases {
		if got := fileStem(in); got != want {
			t.Errorf("fileStem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJoinOr(t *testing.T) {
	if got := joinOr(nil); got != "" {
		t.Errorf("joinOr(nil) = %q, want empty", got)
	}
	if got := joinOr([]string{"a = 1"}); got != "a = 1" {
		t.Errorf("joinOr single = %q", got)
	}
	if got := joinOr([]string{"a = 1", "b = 2", "c = 3"}); got != "a = 1 OR b = 2 OR c = 3" {
		t.Errorf("joinOr multi = %q", got)
	}
}
