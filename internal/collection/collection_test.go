package collection

import "testing"

func TestDeriveShow(t *testing.T) {
	cases := map[string]string{
		"/media/tv/breaking_bad_s01_ep02.mp4": "breaking_bad",
		"/media/movies/inception.mkv":         "inception",
		"plain_file_s02_ep10.avi":             "plain_file",
	}
	for in, want := range cases {
		if got := deriveShow(in); got != want {
			t.Errorf("deriveShow(%q) = %q, want %q", in, got, want)
		}
	}
}
