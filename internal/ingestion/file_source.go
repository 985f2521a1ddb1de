package ingestion

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/sirupsen/logrus"
)

// FileSource reads the precomputed data tree under <root>/new.
//
//	tech_net/new_commit/<pid>_<m>.json
//	social_net/new_emails/<pid>_<m>.json
//	commit_measure/<pid>_<m>.json
//	email_measure/<pid>_<m>.json
//	commit_links/<pid>/<m>/*.csv
//	email_links/<pid>/<m>/*.csv
//	grad_forecast/<pid>_f_data.csv
//	project_info/new_about_data/<pid>.json
//	project_info/new_month_intervals/<pid>.json
type FileSource struct {
	root   string
	logger logrus.FieldLogger
}

// NewFileSource creates a source over staticDir (DATA_DIR_STATIC).
func NewFileSource(staticDir string, logger logrus.FieldLogger) *FileSource {
	return &FileSource{
		root:   filepath.Join(staticDir, "new"),
		logger: logger.WithField("component", "file_source"),
	}
}

const forecastSuffix = "_f_data.csv"

var monthFileDirs = map[models.Family]string{
	models.FamilyTechNet:       filepath.Join("tech_net", "new_commit"),
	models.FamilySocialNet:     filepath.Join("social_net", "new_emails"),
	models.FamilyCommitMeasure: "commit_measure",
	models.FamilyEmailMeasure:  "email_measure",
	models.FamilyIssueMeasure:  "issue_measure",
}

var linkDirs = map[models.Family]string{
	models.FamilyCommitLinks: "commit_links",
	models.FamilyEmailLinks:  "email_links",
}

func (s *FileSource) Projects(ctx context.Context, family models.Family) ([]string, error) {
	seen := map[string]bool{}
	switch {
	case monthFileDirs[family] != "":
		entries, err := s.readDir(monthFileDirs[family])
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if pid, _, ok := s.parseMonthFile(e); ok {
				seen[pid] = true
			}
		}
	case linkDirs[family] != "":
		entries, err := s.readDir(linkDirs[family])
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				s.logger.WithField("entry", e.Name()).Warn("skipping non-directory item")
				continue
			}
			if pid := models.NormalizeProjectID(e.Name()); pid != "" {
				seen[pid] = true
			}
		}
	case family == models.FamilyGradForecast:
		entries, err := s.readDir("grad_forecast")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if strings.HasSuffix(e.Name(), forecastSuffix) {
				if pid := models.NormalizeProjectID(strings.TrimSuffix(e.Name(), forecastSuffix)); pid != "" {
					seen[pid] = true
				}
			}
		}
	default:
		return nil, nil
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileSource) Fetch(ctx context.Context, family models.Family, projectID string) ([]Record, error) {
	pid := models.NormalizeProjectID(projectID)
	switch {
	case monthFileDirs[family] != "":
		return s.fetchMonthFiles(monthFileDirs[family], pid)
	case linkDirs[family] != "":
		return s.fetchLinks(linkDirs[family], pid)
	case family == models.FamilyGradForecast:
		return s.fetchForecast(pid)
	default:
		return nil, nil
	}
}

func (s *FileSource) readDir(rel string) ([]os.DirEntry, error) {
	dir := filepath.Join(s.root, rel)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.FileSystemErrorf(err, "read %s", dir)
	}
	return entries, nil
}

// parseMonthFile splits "<pid>_<m>.json".
func (s *FileSource) parseMonthFile(e os.DirEntry) (string, int, bool) {
	name := e.Name()
	if e.IsDir() || !strings.HasSuffix(name, ".json") {
		return "", 0, false
	}
	parts := strings.Split(strings.TrimSuffix(name, ".json"), "_")
	if len(parts) != 2 {
		s.logger.WithField("file", name).Warn("file name does not match projectid_month.json, skipping")
		return "", 0, false
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || month < 0 {
		s.logger.WithField("file", name).Warn("month part is not a number, skipping")
		return "", 0, false
	}
	pid := models.NormalizeProjectID(parts[0])
	if pid == "" {
		return "", 0, false
	}
	return pid, month, true
}

func (s *FileSource) fetchMonthFiles(rel, pid string) ([]Record, error) {
	entries, err := s.readDir(rel)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		filePID, month, ok := s.parseMonthFile(e)
		if !ok || filePID != pid {
			continue
		}
		path := filepath.Join(s.root, rel, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("file", path).Error("skipping unreadable file")
			continue
		}
		if !json.Valid(data) {
			s.logger.WithField("file", path).Error("skipping file with invalid JSON")
			continue
		}
		out = append(out, Record{Month: month, Data: json.RawMessage(data)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out, nil
}

func (s *FileSource) fetchLinks(rel, pid string) ([]Record, error) {
	entries, err := s.readDir(rel)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, projectDir := range entries {
		if !projectDir.IsDir() || models.NormalizeProjectID(projectDir.Name()) != pid {
			continue
		}
		projectPath := filepath.Join(s.root, rel, projectDir.Name())
		monthDirs, err := os.ReadDir(projectPath)
		if err != nil {
			return nil, errors.FileSystemErrorf(err, "read %s", projectPath)
		}
		for _, md := range monthDirs {
			month, err := strconv.Atoi(strings.TrimSpace(md.Name()))
			if !md.IsDir() || err != nil {
				s.logger.WithFields(logrus.Fields{"project_id": pid, "entry": md.Name()}).Warn("invalid month directory, skipping")
				continue
			}
			monthPath := filepath.Join(projectPath, md.Name())
			files, err := os.ReadDir(monthPath)
			if err != nil {
				return nil, errors.FileSystemErrorf(err, "read %s", monthPath)
			}
			for _, f := range files {
				if !strings.HasSuffix(f.Name(), ".csv") {
					continue
				}
				recs, err := linkRecords(filepath.Join(monthPath, f.Name()), month)
				if err != nil {
					s.logger.WithError(err).WithField("file", f.Name()).Error("skipping unreadable link table")
					continue
				}
				out = append(out, recs...)
			}
		}
	}
	return out, nil
}

func linkRecords(path string, month int) ([]Record, error) {
	t, err := readTable(path)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(t.rows))
	for _, row := range t.rows {
		entry := models.LinkEntry{
			HumanDateTime: t.get(row, "human_date_time"),
			Link:          t.get(row, "link"),
			Author:        t.first(row, "dealiased_author_full_name", "dealised_author_full_name"),
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Month: month, Data: data})
	}
	return out, nil
}

func (s *FileSource) fetchForecast(pid string) ([]Record, error) {
	entries, err := s.readDir("grad_forecast")
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, forecastSuffix) || models.NormalizeProjectID(strings.TrimSuffix(name, forecastSuffix)) != pid {
			continue
		}
		t, err := readTable(filepath.Join(s.root, "grad_forecast", name))
		if err != nil {
			s.logger.WithError(err).WithField("file", name).Error("skipping unreadable forecast table")
			continue
		}
		for _, row := range t.rows {
			date, derr := strconv.Atoi(t.get(row, "date"))
			closeVal, cerr := strconv.ParseFloat(t.get(row, "close"), 64)
			if derr != nil || cerr != nil || date < 0 {
				s.logger.WithFields(logrus.Fields{"file": name, "row": row}).Warn("invalid forecast row, skipping")
				continue
			}
			data, _ := json.Marshal(models.ForecastPoint{Date: date, Close: closeVal})
			out = append(out, Record{Month: date, Data: data})
		}
	}
	return out, nil
}

// ProjectInfos joins about data with month intervals. Projects missing
// either file are skipped.
func (s *FileSource) ProjectInfos(ctx context.Context) ([]*models.Project, error) {
	aboutDir := filepath.Join("project_info", "new_about_data")
	intervalsDir := filepath.Join(s.root, "project_info", "new_month_intervals")

	entries, err := s.readDir(aboutDir)
	if err != nil {
		return nil, err
	}
	var out []*models.Project
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		log := s.logger.WithField("project_id", stem)

		var about map[string]json.RawMessage
		data, err := os.ReadFile(filepath.Join(s.root, aboutDir, e.Name()))
		if err == nil {
			err = json.Unmarshal(data, &about)
		}
		if err != nil {
			log.WithError(err).Error("skipping project with unreadable about data")
			continue
		}
		intervals, err := os.ReadFile(filepath.Join(intervalsDir, e.Name()))
		if err != nil || !json.Valid(intervals) {
			log.Warn("skipping project without month intervals")
			continue
		}

		pid := models.NormalizeProjectID(stem)
		name := textField(about, "project_name")
		if name == "" {
			name = models.ProjectNameFromID(pid)
		}
		out = append(out, &models.Project{
			ProjectID:      pid,
			ProjectName:    name,
			Status:         textField(about, "status"),
			Alias:          textField(about, "alias"),
			Description:    textField(about, "description"),
			Sponsor:        textField(about, "sponsor"),
			Mentor:         about["mentor"],
			StartDate:      textField(about, "start_date"),
			EndDate:        textField(about, "end_date"),
			IncubationTime: about["incubation_time"],
			MonthIntervals: json.RawMessage(intervals),
		})
	}
	return out, nil
}

// textField returns a JSON string as-is and any other JSON value as its
// literal text. null and absent keys are "".
func textField(m map[string]json.RawMessage, key string) string {
	raw, ok := m[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	return text
}
