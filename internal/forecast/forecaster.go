package forecast

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// Record is one row of tabular data.
type Record map[string]interface{}

// Request is what the forecaster receives on stdin.
type Request struct {
	ProjectName string   `json:"project_name"`
	TechData    []Record `json:"tech_data"`
	SocialData  []Record `json:"social_data"`
	Tasks       []string `json:"tasks"`
	MonthRange  []int    `json:"month_range"`
}

// Forecaster computes a forecast for a project's commit and issue tables.
type Forecaster interface {
	Forecast(ctx context.Context, req *Request) ([]Record, error)
}

// ExecForecaster writes the request as JSON to a command's stdin and
// reads its result from stdout.
type ExecForecaster struct {
	Command []string
	Dir     string
	logger  logrus.FieldLogger
}

func NewExecForecaster(command []string, dir string, logger logrus.FieldLogger) *ExecForecaster {
	return &ExecForecaster{
		Command: command,
		Dir:     dir,
		logger:  logger.WithField("component", "forecaster"),
	}
}

func (f *ExecForecaster) Forecast(ctx context.Context, req *Request) ([]Record, error) {
	if len(f.Command) == 0 {
		return nil, errors.ConfigErrorf("forecast command is not configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.InternalErrorf("encode forecast request: %v", err)
	}

	cmd := exec.CommandContext(ctx, f.Command[0], f.Command[1:]...)
	cmd.Dir = f.Dir
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.Output()
	if err != nil {
		return nil, errors.SourceUnavailable(err, "forecaster failed: "+strings.TrimSpace(stderr.String()))
	}
	records, err := NormalizeRecords(stdout)
	if err != nil {
		return nil, err
	}
	f.logger.WithFields(logrus.Fields{"project": req.ProjectName, "records": len(records)}).Info("forecast computed")
	return records, nil
}

// NormalizeRecords accepts a list of objects, a column-oriented object
// ({"col": [v1, v2]}) or a single object and returns row records.
func NormalizeRecords(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []Record{}, nil
	}

	if trimmed[0] == '[' {
		var rows []Record
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "forecast result is not a list of objects")
		}
		return rows, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "decode forecast result")
	}
	if columns, n, ok := asColumns(obj); ok {
		rows := make([]Record, n)
		for i := range rows {
			rows[i] = Record{}
			for name, values := range columns {
				rows[i][name] = values[i]
			}
		}
		return rows, nil
	}

	var single Record
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "decode forecast result")
	}
	return []Record{single}, nil
}

// asColumns reports whether every value is an array of one common length.
func asColumns(obj map[string]json.RawMessage) (map[string][]interface{}, int, bool) {
	if len(obj) == 0 {
		return nil, 0, false
	}
	columns := make(map[string][]interface{}, len(obj))
	n := -1
	for name, raw := range obj {
		var values []interface{}
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, 0, false
		}
		if n >= 0 && len(values) != n {
			return nil, 0, false
		}
		n = len(values)
		columns[name] = values
	}
	return columns, n, true
}

// ReadRecords loads a CSV as records. Numeric cells become numbers.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read header", path)
	}

	var out []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeMalformedInput, errors.SeverityMedium, "%s: read row", path)
		}
		rec := make(Record, len(header))
		for i, name := range header {
			if i >= len(row) {
				rec[name] = nil
				continue
			}
			rec[name] = cell(row[i])
		}
		out = append(out, rec)
	}
	return out, nil
}

func cell(s string) interface{} {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}
