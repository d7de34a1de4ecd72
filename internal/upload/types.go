package upload

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ochronus/goskynet/skynet"
)

// Job is one local file to upload.
type Job struct {
	Path string
	Name string
	Size int64
}

// String returns a formatted string representation of the job
func (j Job) String() string {
	return fmt.Sprintf("[%s]", j.Name)
}

// Status represents the outcome of an upload
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusCanceled
)

// String returns a string representation of the status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is what happened to a Job.
type Result struct {
	Job      Job
	Status   Status
	Skylink  skynet.Skylink
	URL      string
	Attempts int
	Err      error
}

// Summary aggregates a batch of results.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Canceled  int
	Bytes     int64
}

// Summarize counts results by status. Bytes only includes successful uploads.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
			s.Bytes += r.Job.Size
		case StatusFailed:
			s.Failed++
		case StatusCanceled:
			s.Canceled++
		}
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%d uploaded (%s), %d failed, %d canceled",
		s.Succeeded, humanize.Bytes(uint64(s.Bytes)), s.Failed, s.Canceled)
}

// ShouldSkip reports whether name matches one of the glob patterns.
func ShouldSkip(name string, patterns []string) bool {
	lowerName := strings.ToLower(name)
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(pattern), lowerName); ok {
			return true
		}
	}
	return false
}

// Expand turns paths into upload jobs. Files upload under their base name;
// directories are walked and their files upload under the directory's base
// name joined with the relative path. Entries matching skipPatterns are left
// out, as are non-regular files found while walking.
func Expand(paths []string, skipPatterns []string) ([]Job, error) {
	var jobs []Job

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			jobs = append(jobs, Job{Path: path, Name: filepath.Base(path), Size: info.Size()})
			continue
		}

		root := filepath.Clean(path)
		prefix := filepath.Base(root)
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p != root && ShouldSkip(d.Name(), skipPatterns) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			jobs = append(jobs, Job{
				Path: p,
				Name: filepath.ToSlash(filepath.Join(prefix, rel)),
				Size: fi.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", path, err)
		}
	}

	return jobs, nil
}
