package plex

import (
	"encoding/xml"
	"testing"

	"github.com/ddboline/movie-collection-go/internal/config"
)

const episodeFixture = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Video ratingKey="12345" key="/library/metadata/12345" title="Pilot"
         parentKey="/library/metadata/100" grandparentKey="/library/metadata/1">
    <Media id="1" duration="2700000">
      <Part id="1" file="/shares/tv/the_sopranos/the_sopranos_s01_ep01.mp4" />
    </Media>
  </Video>
</MediaContainer>`

const directoryFixture = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer size="1">
  <Directory ratingKey="100" key="/library/metadata/100" title="Season 1"
             parentKey="/library/metadata/1" />
</MediaContainer>`

func TestXMLParseEpisodeFile(t *testing.T) {
	var mc mediaContainer
	if err := xml.Unmarshal([]byte(episodeFixture), &mc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(mc.Video) != 1 {
		t.Fatalf("expected 1 video node, got %d", len(mc.Video))
	}
	f, ok := mc.Video[0].firstFile()
	if !ok {
		t.Fatalf("expected a file attribute")
	}
	want := "/shares/tv/the_sopranos/the_sopranos_s01_ep01.mp4"
	if f != want {
		t.Errorf("file = %q, want %q", f, want)
	}
	if mc.Video[0].ParentKey != "/library/metadata/100" {
		t.Errorf("parentKey = %q", mc.Video[0].ParentKey)
	}
	if mc.Video[0].GrandparentKey != "/library/metadata/1" {
		t.Errorf("grandparentKey = %q", mc.Video[0].GrandparentKey)
	}
}

func TestXMLParseDirectoryHasNoFile(t *testing.T) {
	var mc mediaContainer
	if err := xml.Unmarshal([]byte(directoryFixture), &mc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(mc.Directory) != 1 {
		t.Fatalf("expected 1 directory node, got %d", len(mc.Directory))
	}
	if _, ok := mc.Directory[0].firstFile(); ok {
		t.Errorf("directory node should have no file attribute")
	}
}

func TestPathMapperApply(t *testing.T) {
	mapper := PathMapper{Mappings: []config.PathMapping{
		{Prefix: "/shares/", Replacement: "/media/"},
	}}

	got := mapper.Apply("/shares/tv/the_sopranos/the_sopranos_s01_ep01.mp4")
	want := "/media/tv/the_sopranos/the_sopranos_s01_ep01.mp4"
	if got != want {
		t.Errorf("Apply() = %q, want %q", got, want)
	}
}

func TestPathMapperApplyNoMatch(t *testing.T) {
	mapper := PathMapper{Mappings: []config.PathMapping{
		{Prefix: "/shares/", Replacement: "/media/"},
	}}

	path := "/already/local/path.mp4"
	if got := mapper.Apply(path); got != path {
		t.Errorf("Apply() = %q, want unchanged %q", got, path)
	}
}

func TestPathMapperApplyEmpty(t *testing.T) {
	mapper := PathMapper{}
	path := "/shares/tv/show.mp4"
	if got := mapper.Apply(path); got != path {
		t.Errorf("Apply() with no mappings should pass through, got %q", got)
	}
}
