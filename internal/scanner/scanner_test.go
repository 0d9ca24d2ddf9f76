package scanner

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFileStem(t *testing.T) {
	cases := []struct {
		stem string
		want Parsed
	}{
		{"the_sopranos_s01_ep01", Parsed{"the_sopranos", 1, 1}},
		{"galaxy_quest", Parsed{"galaxy_quest", -1, -1}},
		{"archer_s13_ep04", Parsed{"archer", 13, 4}},
		{"show_with_underscores_s02_ep10", Parsed{"show_with_underscores", 2, 10}},
		{"no_numbers_sX_epY", Parsed{"no_numbers_sX_epY", -1, -1}},
		{"a_b", Parsed{"a_b", -1, -1}},
	}
	for _, c := range cases {
		got := ParseFileStem(c.stem)
		if got != c.want {
			t.Errorf("ParseFileStem(%q) = %+v, want %+v", c.stem, got, c.want)
		}
	}
}

func TestParseFileStemRoundTrip(t *testing.T) {
	shows := []string{"galaxy_quest", "the_sopranos", "archer"}
	for _, show := range shows {
		for season := 0; season <= 13; season++ {
			for episode := 0; episode <= 4; episode++ {
				stem := FormatFileStem(show, season, episode)
				got := ParseFileStem(stem)
				if got.Show != show || got.Season != season || got.Episode != episode {
					t.Fatalf("round trip failed for %s/%d/%d: got %+v", show, season, episode, got)
				}
			}
		}
	}
}

func TestScanSkipsMissingRootsAndFiltersExtensions(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "galaxy_quest.mp4"))
	mustWrite(t, filepath.Join(dir, "the_sopranos_s01_ep01.mkv"))
	mustWrite(t, filepath.Join(dir, "readme.txt"))
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(sub, "archer_s13_ep04.avi"))

	s := New([]string{dir, "/does/not/exist"}, []string{"mp4", "mkv", "avi"})
	result := s.Scan()

	if len(result.Files) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(result.Files), result.Files)
	}
	foundEpisode := false
	for _, p := range result.Episodes {
		if p.Show == "the_sopranos" && p.Season == 1 && p.Episode == 1 {
			foundEpisode = true
		}
	}
	if !foundEpisode {
		t.Errorf("expected to find parsed episode for the_sopranos, got %+v", result.Episodes)
	}
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}
