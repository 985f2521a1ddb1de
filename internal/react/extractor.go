package react

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// Extractor produces raw ReACT items for one month of a feature table.
type Extractor interface {
	Extract(ctx context.Context, reactSetPath, featureTablePath string, month int) ([]RawItem, error)
}

// ExecExtractor runs an external command and reads a JSON item list from
// its stdout. The command receives --react-set, --features and --month.
type ExecExtractor struct {
	Command []string
	Dir     string
	logger  logrus.FieldLogger
}

func NewExecExtractor(command []string, dir string, logger logrus.FieldLogger) *ExecExtractor {
	return &ExecExtractor{
		Command: command,
		Dir:     dir,
		logger:  logger.WithField("component", "react_extractor"),
	}
}

func (e *ExecExtractor) Extract(ctx context.Context, reactSetPath, featureTablePath string, month int) ([]RawItem, error) {
	if len(e.Command) == 0 {
		return nil, errors.ConfigErrorf("react extractor command is not configured")
	}
	args := append(append([]string(nil), e.Command[1:]...),
		"--react-set", reactSetPath,
		"--features", featureTablePath,
		"--month", strconv.Itoa(month),
	)
	cmd := exec.CommandContext(ctx, e.Command[0], args...)
	cmd.Dir = e.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()
	if err != nil {
		return nil, errors.SourceUnavailable(err, "react extractor failed: "+strings.TrimSpace(stderr.String()))
	}
	items, err := DecodeRawItems(stdout)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "decode react extractor output")
	}
	e.logger.WithFields(logrus.Fields{"month": month, "items": len(items)}).Debug("react extraction finished")
	return items, nil
}

// FeatureTable summarizes the net-cache table handed to the extractor.
type FeatureTable struct {
	Path   string
	Rows   int
	Months []int // distinct values of the month column, ascending
}

// LocateFeatureTable returns the first table in <pexDir>/net-caches.
func LocateFeatureTable(pexDir string) (string, error) {
	dir := filepath.Join(pexDir, "net-caches")
	if _, err := os.Stat(dir); err != nil {
		return "", errors.FileSystemErrorf(err, "net-caches folder not found in %s", pexDir)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*.csv"))
	if len(matches) == 0 {
		return "", errors.MalformedInputf("no CSV file found in %s", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

// ReadFeatureTable counts data rows and collects the month column. A table
// without a month column has no Months.
func ReadFeatureTable(path string) (*FeatureTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read header", path)
	}
	monthCol := -1
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), "month") {
			monthCol = i
			break
		}
	}

	table := &FeatureTable{Path: path}
	seen := map[int]bool{}
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read row", path)
		}
		table.Rows++
		if monthCol < 0 || monthCol >= len(row) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[monthCol]), 64)
		if err != nil {
			continue
		}
		m := int(math.Trunc(v))
		if !seen[m] {
			seen[m] = true
			table.Months = append(table.Months, m)
		}
	}
	sort.Ints(table.Months)
	return table, nil
}

// Runner ties the extractor to the configured reference set and the
// forecaster's net-cache directory.
type Runner struct {
	extractor    Extractor
	reactSetPath string
	pexDir       string
	logger       logrus.FieldLogger
}

func NewRunner(extractor Extractor, reactSetPath, pexDir string, logger logrus.FieldLogger) *Runner {
	return &Runner{
		extractor:    extractor,
		reactSetPath: reactSetPath,
		pexDir:       pexDir,
		logger:       logger.WithField("component", "react"),
	}
}

func (r *Runner) prepare() (*FeatureTable, error) {
	if _, err := os.Stat(r.reactSetPath); err != nil {
		return nil, errors.FileSystemErrorf(err, "react set not found at %s", r.reactSetPath)
	}
	path, err := LocateFeatureTable(r.pexDir)
	if err != nil {
		return nil, err
	}
	return ReadFeatureTable(path)
}

// RunLatest extracts once, using the table's row count as the month.
func (r *Runner) RunLatest(ctx context.Context) ([]Item, error) {
	table, err := r.prepare()
	if err != nil {
		return nil, err
	}
	raw, err := r.extractor.Extract(ctx, r.reactSetPath, table.Path, table.Rows)
	if err != nil {
		return nil, err
	}
	return Format(raw), nil
}

// RunAll extracts once per distinct month of the feature table.
func (r *Runner) RunAll(ctx context.Context) (map[int][]Item, error) {
	table, err := r.prepare()
	if err != nil {
		return nil, err
	}
	if len(table.Months) == 0 {
		return nil, errors.MalformedInputf("%s: no month column values", table.Path)
	}

	out := make(map[int][]Item, len(table.Months))
	for _, m := range table.Months {
		raw, err := r.extractor.Extract(ctx, r.reactSetPath, table.Path, m)
		if err != nil {
			return nil, errors.Wrapf(err, errors.GetType(err), errors.SeverityMedium, "react extraction for month %d", m)
		}
		out[m] = Format(raw)
	}
	r.logger.WithField("months", len(out)).Info("react extraction finished for all months")
	return out, nil
}
