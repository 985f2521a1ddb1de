package query

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

func decodeEntries(raw json.RawMessage) ([]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var entries []interface{}
	if err := dec.Decode(&entries); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, errors.SeverityMedium, "network month is not a list")
	}
	return entries, nil
}

// sanitizeTechNet forces every entry into [name, extension, number].
// Malformed entries become ["", "", 0] so indices stay aligned.
func sanitizeTechNet(raw json.RawMessage) ([]interface{}, error) {
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		triple, ok := e.([]interface{})
		if !ok || len(triple) != 3 {
			out = append(out, []interface{}{"", "", 0})
			continue
		}
		var value interface{} = 0
		if n, ok := triple[2].(json.Number); ok {
			value = n
		}
		out = append(out, []interface{}{str(triple[0]), str(triple[1]), value})
	}
	return out, nil
}

// sanitizeSocialNet keeps [sender, receiver, number] entries, converting
// numeric strings. Entries without a usable number are dropped.
func sanitizeSocialNet(raw json.RawMessage, logger logrus.FieldLogger) ([]interface{}, error) {
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		triple, ok := e.([]interface{})
		if !ok || len(triple) != 3 {
			logger.WithField("entry", e).Debug("skipping malformed social entry")
			continue
		}
		value, ok := number(triple[2])
		if !ok {
			logger.WithField("entry", e).Debug("skipping social entry without a numeric value")
			continue
		}
		out = append(out, []interface{}{str(triple[0]), str(triple[1]), value})
	}
	return out, nil
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}

func number(v interface{}) (interface{}, bool) {
	switch n := v.(type) {
	case json.Number:
		return n, true
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && !strings.HasPrefix(s, "-") && !strings.HasPrefix(s, "+") {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return nil, false
}
