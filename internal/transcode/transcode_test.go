package transcode

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/ddboline/movie-collection-go/internal/config"
	"github.com/ddboline/movie-collection-go/internal/models"
)

func testPaths(t *testing.T) config.Paths {
	home := t.TempDir()
	return config.Paths{Home: home, Preferred: home}
}

func TestCreateTranscodeRequest(t *testing.T) {
	s := New(testPaths(t), "", nil)
	job, err := s.CreateTranscodeRequest("/media/movies/galaxy_quest.mkv")
	if err != nil {
		t.Fatalf("CreateTranscodeRequest() error: %v", err)
	}
	if job.JobType != models.JobTranscode {
		t.Errorf("JobType = %v, want Transcode", job.JobType)
	}
	if job.Prefix != "galaxy_quest" {
		t.Errorf("Prefix = %q, want galaxy_quest", job.Prefix)
	}
	wantOutput := filepath.Join(s.paths.AviDir(), "galaxy_quest.mp4")
	if job.OutputPath != wantOutput {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, wantOutput)
	}
}

func TestCreateRemcomRequestMovieDirectory(t *testing.T) {
	paths := testPaths(t)
	destDir := filepath.Join(paths.Preferred, "Documents", "movies", "action")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		t.Fatal(err)
	}

	s := New(paths, "", nil)
	job, err := s.CreateRemcomRequest("/tmp/galaxy_quest.mp4", "action", false)
	if err != nil {
		t.Fatalf("CreateRemcomRequest() error: %v", err)
	}
	if job.JobType != models.JobMove {
		t.Errorf("JobType = %v, want Move", job.JobType)
	}
	want := filepath.Join(destDir, "galaxy_quest.mp4")
	if job.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, want)
	}
}

func TestCreateRemcomRequestEpisodeCreatesSeasonDir(t *testing.T) {
	paths := testPaths(t)
	s := New(paths, "", nil)

	job, err := s.CreateRemcomRequest("/tmp/the_sopranos_s01_ep01.mp4", "", false)
	if err != nil {
		t.Fatalf("CreateRemcomRequest() error: %v", err)
	}
	wantDir := filepath.Join(paths.Preferred, "Documents", "television", "the_sopranos", "season1")
	if info, err := os.Stat(wantDir); err != nil || !info.IsDir() {
		t.Fatalf("expected season directory %s to be created", wantDir)
	}
	want := filepath.Join(wantDir, "the_sopranos_s01_ep01.mp4")
	if job.OutputPath != want {
		t.Errorf("OutputPath = %q, want %q", job.OutputPath, want)
	}
}

func TestCreateRemcomRequestFallsBackToTranscodeForNonMp4(t *testing.T) {
	s := New(testPaths(t), "", nil)
	job, err := s.CreateRemcomRequest("/tmp/movie.mkv", "", false)
	if err != nil {
		t.Fatalf("CreateRemcomRequest() error: %v", err)
	}
	if job.JobType != models.JobTranscode {
		t.Errorf("JobType = %v, want Transcode fallback", job.JobType)
	}
}

func TestJobFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "job.json")
	job := models.TranscodeJob{
		JobType:    models.JobTranscode,
		Prefix:     "galaxy_quest",
		InputPath:  "/media/galaxy_quest.mkv",
		OutputPath: "/home/dvdrip/avi/galaxy_quest.mp4",
	}
	if err := writeJobFile(path, job); err != nil {
		t.Fatalf("writeJobFile() error: %v", err)
	}
	got, err := readJobFile(path)
	if err != nil {
		t.Fatalf("readJobFile() error: %v", err)
	}
	if got != job {
		t.Errorf("round-tripped job = %+v, want %+v", got, job)
	}
}

func TestListPendingSortsAndSkipsMissingDir(t *testing.T) {
	paths := testPaths(t)
	s := New(paths, "", nil)

	jobs, err := s.ListPending()
	if err != nil {
		t.Fatalf("ListPending() on missing dir: %v", err)
	}
	if jobs != nil {
		t.Errorf("expected nil jobs for missing dir, got %v", jobs)
	}

	if err := s.Submit(models.TranscodeJob{JobType: models.JobTranscode, Prefix: "b_show", InputPath: "b.mkv"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Submit(models.TranscodeJob{JobType: models.JobTranscode, Prefix: "a_show", InputPath: "a.mkv"}); err != nil {
		t.Fatal(err)
	}

	jobs, err = s.ListPending()
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Prefix != "a_show" || jobs[1].Prefix != "b_show" {
		t.Errorf("expected alphabetical order, got %q, %q", jobs[0].Prefix, jobs[1].Prefix)
	}
}

func TestClaimToleratesAlreadyRemoved(t *testing.T) {
	s := New(testPaths(t), "", nil)
	job := models.TranscodeJob{JobType: models.JobTranscode, Prefix: "ghost"}
	if err := s.Claim(job); err != nil {
		t.Errorf("Claim() on never-submitted job should be a no-op, got %v", err)
	}
}

func TestIsHandbrakeSuccess(t *testing.T) {
	if !isHandbrakeSuccess(nil) {
		t.Error("nil wait error should be success")
	}

	exit1 := exec.Command("sh", "-c", "exit 1").Run()
	if !isHandbrakeSuccess(exit1) {
		t.Errorf("exit code 1 should be treated as success, got err: %v", exit1)
	}

	exit2 := exec.Command("sh", "-c", "exit 2").Run()
	if isHandbrakeSuccess(exit2) {
		t.Errorf("exit code 2 should be treated as failure, got err: %v", exit2)
	}
}

func TestLastNonEmptyLineSplitsOnCarriageReturn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.out")
	progress := "Encoding: task 1 of 1, 10.00 %\rEncoding: task 1 of 1, 55.00 %\rEncoding: task 1 of 1, 99.50 %\r"
	if err := os.WriteFile(path, []byte(progress), 0o644); err != nil {
		t.Fatal(err)
	}

	last, err := lastNonEmptyLine(path)
	if err != nil {
		t.Fatalf("lastNonEmptyLine() error: %v", err)
	}
	if last != "Encoding: task 1 of 1, 99.50 %" {
		t.Errorf("lastNonEmptyLine() = %q, want last \\r-delimited segment", last)
	}
}
