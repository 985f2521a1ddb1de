package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// File name patterns written by the miner.
const (
	CommitCSVPattern = "*-commit-file-dev.csv"
	IssueCSVPattern  = "*_issues.csv"
)

// folderWorkers is one worker per record family.
const folderWorkers = 2

// Outputs are the tables found in a miner output directory.
type Outputs struct {
	CommitCSV string
	IssueCSV  string
}

// LocateOutputs finds the commit and issue tables in dir by file name,
// then by header for any table still unassigned. A missing directory and
// a directory with neither table are both errors.
func LocateOutputs(dir string) (*Outputs, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "miner output directory %s", dir)
	}
	if !info.IsDir() {
		return nil, errors.MalformedInputf("miner output %s is not a directory", dir)
	}

	out := &Outputs{
		CommitCSV: firstMatch(dir, CommitCSVPattern),
		IssueCSV:  firstMatch(dir, IssueCSVPattern),
	}

	if out.CommitCSV == "" || out.IssueCSV == "" {
		all, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
		sort.Strings(all)
		for _, path := range all {
			if path == out.CommitCSV || path == out.IssueCSV {
				continue
			}
			header, err := readHeader(path)
			if err != nil || len(header) == 0 {
				continue
			}
			class := Classify(header)
			switch {
			case class.Defaulted:
				// unrecognised tables are not picked up by header
			case class.Kind == KindCommit && out.CommitCSV == "":
				out.CommitCSV = path
			case class.Kind == KindIssue && out.IssueCSV == "":
				out.IssueCSV = path
			}
		}
	}

	if out.CommitCSV == "" && out.IssueCSV == "" {
		return nil, errors.MalformedInputf("no commit or issue CSV found in %s", dir)
	}
	return out, nil
}

func firstMatch(dir, pattern string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[0]
}

func readHeader(path string) ([]string, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return t.header, nil
}

// FolderResult carries each table's outcome independently.
type FolderResult struct {
	Outputs   *Outputs
	Commit    *CSVResult
	Issue     *CSVResult
	CommitErr error
	IssueErr  error
	Archived  []string
}

// Warnings collects classification warnings from both tables.
func (r *FolderResult) Warnings() []string {
	var out []string
	for _, res := range []*CSVResult{r.Commit, r.Issue} {
		if res != nil {
			out = append(out, res.Warnings...)
		}
	}
	return out
}

// ProcessFolder ingests the commit and issue tables of a miner output
// directory in two concurrent workers and waits for both. A failure in one
// table is reported on the result and does not stop the other. Tables that
// were stored are then archived.
func (in *Ingester) ProcessFolder(ctx context.Context, dir, projectID, projectName string) (*FolderResult, error) {
	outputs, err := LocateOutputs(dir)
	if err != nil {
		return nil, err
	}
	res := &FolderResult{Outputs: outputs}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(folderWorkers)
	if outputs.CommitCSV != "" {
		g.Go(func() error {
			res.Commit, res.CommitErr = in.IngestCSV(gctx, outputs.CommitCSV, projectID, projectName)
			return nil
		})
	}
	if outputs.IssueCSV != "" {
		g.Go(func() error {
			res.Issue, res.IssueErr = in.IngestCSV(gctx, outputs.IssueCSV, projectID, projectName)
			return nil
		})
	}
	g.Wait()

	for _, item := range []struct {
		path string
		err  error
		kind RecordKind
	}{
		{outputs.CommitCSV, res.CommitErr, KindCommit},
		{outputs.IssueCSV, res.IssueErr, KindIssue},
	} {
		if item.path == "" {
			continue
		}
		if item.err != nil {
			in.logger.WithError(item.err).WithField("kind", item.kind).Error("csv ingestion failed")
			continue
		}
		dest, err := in.Archive(item.path, projectID)
		if err != nil {
			in.logger.WithError(err).WithField("file", item.path).Warn("could not archive csv, leaving it in place")
			continue
		}
		if dest != "" {
			res.Archived = append(res.Archived, dest)
		}
	}
	return res, nil
}

// Archive moves an ingested file to <archiveDir>/<project>/<timestamp>/.
// Files are never deleted. It returns "" when archiving is disabled.
func (in *Ingester) Archive(path, projectID string) (string, error) {
	if in.archiveDir == "" {
		return "", nil
	}
	project := strings.TrimSpace(projectID)
	if project == "" {
		project = UnknownProject
	}
	stamp := in.now().UTC().Format("20060102T150405Z")
	destDir := filepath.Join(in.archiveDir, project, stamp)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", errors.FileSystemErrorf(err, "create archive directory %s", destDir)
	}
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", errors.FileSystemErrorf(err, "move %s to %s", path, dest)
	}
	in.logger.WithFields(logrus.Fields{"from": path, "to": dest}).Info("csv archived")
	return dest, nil
}
