// Package transcode implements the Transcode Scheduler (spec §4.8): a
// filesystem-directory job queue for HandBrakeCLI encodes and post-encode
// file moves, independent of the general asynq task queue (spec §9 —
// transcode jobs are deliberately NOT routed through Redis so a running
// encode survives a broker outage). Grounded statement-for-statement on
// movie_collection_lib/src/transcode_service.rs: the request builders, the
// `\r`-delimited stdout / `\n`-delimited stderr capture split, the
// rename-falls-back-to-copy move, and the running-process accept-list
// (ported from `procfs` to gopsutil/v4/process).
package transcode

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/ddboline/movie-collection-go/internal/config"
	"github.com/ddboline/movie-collection-go/internal/models"
	"github.com/ddboline/movie-collection-go/internal/scanner"
)

// Scheduler runs and tracks transcode/move jobs for one configured home
// directory layout (spec §6: dvdrip/jobs, dvdrip/avi, dvdrip/log, tmp_avi).
type Scheduler struct {
	paths            config.Paths
	handbrakeCLIPath string
	// reconcileFn re-runs the Reconciliation Pass after RunMove relocates
	// a file, so the new location is picked up without waiting for the
	// next scheduled sweep (spec §4.8). Nil is a valid no-op default.
	reconcileFn func(path string) error
}

// New builds a Scheduler.
func New(paths config.Paths, handbrakeCLIPath string, reconcileFn func(path string) error) *Scheduler {
	return &Scheduler{paths: paths, handbrakeCLIPath: handbrakeCLIPath, reconcileFn: reconcileFn}
}

// CreateTranscodeRequest builds the descriptor for transcoding inputPath
// into dvdrip/avi/<stem>.mp4 (spec §4.8).
func (s *Scheduler) CreateTranscodeRequest(inputPath string) (models.TranscodeJob, error) {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	if stem == "" {
		return models.TranscodeJob{}, fmt.Errorf("no file stem for %s", inputPath)
	}
	return models.TranscodeJob{
		JobType:    models.JobTranscode,
		Prefix:     stem,
		InputPath:  inputPath,
		OutputPath: filepath.Join(s.paths.AviDir(), stem+".mp4"),
	}, nil
}

// CreateRemcomRequest builds either a Move descriptor (input is already an
// .mp4, destined for the canonical library layout) or falls back to
// CreateTranscodeRequest for any other extension (spec §4.8). directory
// overrides season-based placement for movies; unwatched routes to
// television/unwatched instead of a show/season directory.
func (s *Scheduler) CreateRemcomRequest(path, directory string, unwatched bool) (models.TranscodeJob, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if ext != "mp4" {
		return s.CreateTranscodeRequest(path)
	}

	var outputDir string
	switch {
	case directory != "":
		outputDir = filepath.Join(s.paths.Preferred, "Documents", "movies", directory)
		if _, err := os.Stat(outputDir); err != nil {
			return models.TranscodeJob{}, fmt.Errorf("directory %s does not exist", outputDir)
		}
	case unwatched:
		outputDir = filepath.Join(s.paths.Preferred, "television", "unwatched")
		if _, err := os.Stat(outputDir); err != nil {
			return models.TranscodeJob{}, fmt.Errorf("directory %s does not exist", outputDir)
		}
	default:
		parsed := scanner.ParseFileStem(stem)
		if parsed.Season < 0 || parsed.Episode < 0 {
			return models.TranscodeJob{}, fmt.Errorf("failed to parse show season episode from %q", stem)
		}
		outputDir = filepath.Join(s.paths.Preferred, "Documents", "television", parsed.Show, fmt.Sprintf("season%d", parsed.Season))
		if _, err := os.Stat(outputDir); err != nil {
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return models.TranscodeJob{}, err
			}
		}
	}

	return models.TranscodeJob{
		JobType:    models.JobMove,
		Prefix:     stem,
		InputPath:  path,
		OutputPath: filepath.Join(outputDir, stem+".mp4"),
	}, nil
}

// jsonPath returns the on-disk job descriptor path for job (spec §4.8, §6):
// Transcode jobs use <prefix>.json, Move jobs use <prefix>_copy.json.
func (s *Scheduler) jsonPath(job models.TranscodeJob) string {
	if job.JobType == models.JobMove {
		return filepath.Join(s.paths.JobDir(), job.Prefix+"_copy.json")
	}
	return filepath.Join(s.paths.JobDir(), job.Prefix+".json")
}

// Submit writes job's descriptor into the jobs directory for the worker
// loop to pick up (spec §4.8).
func (s *Scheduler) Submit(job models.TranscodeJob) error {
	if err := os.MkdirAll(s.paths.JobDir(), 0o755); err != nil {
		return err
	}
	return writeJobFile(s.jsonPath(job), job)
}

// ListPending returns every job descriptor currently waiting in the jobs
// directory, sorted by filename for deterministic worker draining.
func (s *Scheduler) ListPending() ([]models.TranscodeJob, error) {
	entries, err := os.ReadDir(s.paths.JobDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var jobs []models.TranscodeJob
	for _, name := range names {
		job, err := readJobFile(filepath.Join(s.paths.JobDir(), name))
		if err != nil {
			log.Printf("[transcode] skipping unreadable job file %s: %v", name, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Claim removes job's descriptor file so no other worker picks it up,
// tolerating a concurrent claim by another worker (os.Remove on an
// already-gone file is not an error here).
func (s *Scheduler) Claim(job models.TranscodeJob) error {
	err := os.Remove(s.jsonPath(job))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Run dispatches job to RunTranscode or RunMove per its JobType (spec §4.8).
func (s *Scheduler) Run(ctx context.Context, job models.TranscodeJob) error {
	switch job.JobType {
	case models.JobTranscode:
		return s.RunTranscode(ctx, job.Prefix, job.InputPath, job.OutputPath)
	case models.JobMove:
		return s.RunMove(job.Prefix, job.InputPath, job.OutputPath)
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}
}

// RunTranscode spawns HandBrakeCLI against inputFile, capturing stdout
// split on '\r' (progress updates overwrite a single terminal line) and
// stderr split on '\n' into separate debug log files, then moves the
// result into the canonical movies directory and archives the logs (spec
// §4.8).
func (s *Scheduler) RunTranscode(ctx context.Context, prefix, inputFile, outputFile string) error {
	scriptFile := filepath.Join(s.paths.JobDir(), prefix+".json")
	if _, err := os.Stat(scriptFile); err == nil {
		os.Remove(scriptFile)
	}

	if _, err := os.Stat(inputFile); err != nil {
		return fmt.Errorf("%s does not exist", inputFile)
	}

	if err := os.MkdirAll(s.paths.LogDir(), 0o755); err != nil {
		return err
	}

	outputPath := filepath.Join(s.paths.Home, "Documents", "movies", filepath.Base(outputFile))
	debugBase := filepath.Join(s.paths.LogDir(), prefix+"_mp4")
	stdoutPath := debugBase + ".out"
	stderrPath := debugBase + ".err"

	handbrakeCLI := s.handbrakeCLIPath
	if handbrakeCLI == "" {
		handbrakeCLI = "HandBrakeCLI"
	}
	cmd := exec.CommandContext(ctx, handbrakeCLI,
		"-i", inputFile,
		"-o", outputFile,
		"--preset", "Android 480p30",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start HandBrakeCLI: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- streamToFile(stdout, stdoutPath, '\r') }()
	go func() { errCh <- streamToFile(stderr, stderrPath, '\n') }()

	waitErr := cmd.Wait()
	log.Printf("[transcode] HandBrakeCLI exited: %v", waitErr)

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			return fmt.Errorf("capture output: %w", err)
		}
	}
	if !isHandbrakeSuccess(waitErr) {
		return fmt.Errorf("HandBrakeCLI: %w", waitErr)
	}

	if _, err := os.Stat(outputFile); err == nil {
		if err := renameOrCopy(outputFile, outputPath); err != nil {
			return fmt.Errorf("move transcoded output: %w", err)
		}
	}

	if err := os.MkdirAll(s.paths.TmpAviDir(), 0o755); err != nil {
		return err
	}
	if statErrExists(stdoutPath) && statErrExists(stderrPath) {
		if err := appendFile(stderrPath, stdoutPath); err != nil {
			return err
		}
		newDebugPath := filepath.Join(s.paths.TmpAviDir(), prefix+"_mp4.out")
		if err := os.Rename(stderrPath, newDebugPath); err != nil {
			return err
		}
		os.Remove(stdoutPath)
	}
	return nil
}

// RunMove copies the post-transcode <show>.mp4 out of the Home movies
// directory to outputFile via a crash-safe `.new`/`.old` rename sequence,
// then reruns the
// Reconciliation Pass so the new location is picked up (spec §4.8; the
// reconcileFn hook stands in for the original's make_collection call).
func (s *Scheduler) RunMove(show, inputFile, outputFile string) error {
	scriptFile := filepath.Join(s.paths.JobDir(), show+"_copy.json")
	if _, err := os.Stat(scriptFile); err == nil {
		os.Remove(scriptFile)
	}

	resolvedInput := inputFile
	if _, err := os.Stat(resolvedInput); err != nil {
		resolvedInput = filepath.Join(s.paths.Home, "Documents", "movies", inputFile)
	}
	if _, err := os.Stat(resolvedInput); err != nil {
		return fmt.Errorf("%s does not exist", resolvedInput)
	}

	if err := os.MkdirAll(s.paths.LogDir(), 0o755); err != nil {
		return err
	}
	debugOutputPath := filepath.Join(s.paths.LogDir(), show+"_copy.out")
	debugFile, err := os.Create(debugOutputPath)
	if err != nil {
		return err
	}
	defer debugFile.Close()

	showPath := filepath.Join(s.paths.Home, "Documents", "movies", show+".mp4")
	if _, err := os.Stat(showPath); err != nil {
		return nil
	}

	newPath := strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".new"
	fmt.Fprintf(debugFile, "copy %s to %s\n", showPath, newPath)
	if err := copyFile(showPath, newPath); err != nil {
		return fmt.Errorf("copy to staging: %w", err)
	}

	if _, err := os.Stat(outputFile); err == nil {
		oldPath := strings.TrimSuffix(outputFile, filepath.Ext(outputFile)) + ".old"
		fmt.Fprintf(debugFile, "copy %s to %s\n", outputFile, oldPath)
		if err := os.Rename(outputFile, oldPath); err != nil {
			return fmt.Errorf("archive previous output: %w", err)
		}
	}

	fmt.Fprintf(debugFile, "copy %s to %s\n", newPath, outputFile)
	if err := os.Rename(newPath, outputFile); err != nil {
		return fmt.Errorf("promote staged output: %w", err)
	}

	if s.reconcileFn != nil {
		debugFile.WriteString("update collection\n")
		if err := s.reconcileFn(outputFile); err != nil {
			return fmt.Errorf("reconcile after move: %w", err)
		}
	}
	debugFile.WriteString("add " + outputFile + " to queue\n")

	if err := os.MkdirAll(s.paths.TmpAviDir(), 0o755); err != nil {
		return err
	}
	if _, err := os.Stat(debugOutputPath); err == nil {
		newDebugPath := filepath.Join(s.paths.TmpAviDir(), show+"_copy.out")
		return os.Rename(debugOutputPath, newDebugPath)
	}
	return nil
}

// ──────────────────── Running process discovery ────────────────────

var acceptedExePaths = map[string]bool{
	"/usr/bin/run-encoding": true,
	"/usr/bin/HandBrakeCLI": true,
}

// ListRunningProcs lists every live process whose executable path matches
// the accept-list (spec §4.8), sorted by PID. Grounded on get_procs in
// transcode_service.rs; procfs is replaced with gopsutil/v4/process, the
// only actively-maintained cross-platform equivalent among the pack's deps.
func ListRunningProcs(ctx context.Context) ([]models.ProcInfo, error) {
	procs, err := gopsprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []models.ProcInfo
	for _, p := range procs {
		exe, err := p.ExeWithContext(ctx)
		if err != nil || !acceptedExePaths[exe] {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			args = nil
		}
		if len(args) > 0 {
			args = args[1:]
		}
		out = append(out, models.ProcInfo{PID: p.Pid, Name: name, Exe: exe, Args: args})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// BuildStatus assembles a full TranscodeStatus view: running procs, jobs
// still in the queue, in-progress log files under LogDir, and archived logs
// under TmpAviDir (spec §4.8).
func (s *Scheduler) BuildStatus(ctx context.Context) (models.TranscodeStatus, error) {
	var status models.TranscodeStatus

	procs, err := ListRunningProcs(ctx)
	if err != nil {
		return status, err
	}
	status.Procs = procs

	upcoming, err := s.ListPending()
	if err != nil {
		return status, err
	}
	status.UpcomingJobs = upcoming

	current, err := currentJobs(s.paths.LogDir())
	if err != nil {
		return status, err
	}
	status.CurrentJobs = current

	finished, err := listExtension(s.paths.TmpAviDir(), ".out")
	if err != nil {
		return status, err
	}
	status.FinishedJobs = finished

	return status, nil
}

func currentJobs(logDir string) ([]models.CurrentJob, error) {
	entries, err := os.ReadDir(logDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []models.CurrentJob
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".out") {
			continue
		}
		path := filepath.Join(logDir, e.Name())
		last, err := lastNonEmptyLine(path)
		if err != nil {
			continue
		}
		out = append(out, models.CurrentJob{Path: path, LastLine: last})
	}
	return out, nil
}

func listExtension(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ──────────────────── helpers ────────────────────

func streamToFile(r io.Reader, outputPath string, delim byte) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(r)
	for {
		chunk, err := reader.ReadBytes(delim)
		if len(chunk) > 0 {
			if _, werr := f.Write(chunk); werr != nil {
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func appendFile(target, source string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// isHandbrakeSuccess reports whether a HandBrakeCLI exit is treated as a
// successful encode (spec §4.8: "Child exit code 0 or 1 ... is treated as
// success; any other code fails the job"), matching the pack's own
// `code() != Some(1)` check (mkv_utils.rs).
func isHandbrakeSuccess(waitErr error) bool {
	if waitErr == nil {
		return true
	}
	var exitErr *exec.ExitError
	return errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1
}

func statErrExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// lastNonEmptyLine returns the last non-blank `\r`-delimited segment of the
// in-progress HandBrakeCLI stdout log (spec §4.8: the current-job status
// line is progress output with no newlines, only carriage returns — cf.
// the original's get_last_line, transcode_service.rs:779).
func lastNonEmptyLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\r")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" {
			return trimmed, nil
		}
	}
	return "", nil
}

func writeJobFile(path string, job models.TranscodeJob) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(job)
}

func readJobFile(path string) (models.TranscodeJob, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.TranscodeJob{}, err
	}
	defer f.Close()
	var job models.TranscodeJob
	err = json.NewDecoder(f).Decode(&job)
	return job, err
}
