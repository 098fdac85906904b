package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/emiliopalmerini/mvariant/internal/domain"
)

// decodeYAML reads a YAML document from path, or from in when path is "-".
// Unknown keys are rejected so typos do not pass silently.
func decodeYAML(path string, in io.Reader, v any) error {
	r := in
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func parseMetric(s string) (domain.Metric, error) {
	m, ok := domain.ParseMetric(s)
	if !ok {
		return "", fmt.Errorf("unknown metric %q, want one of %v", s, domain.KnownMetrics())
	}
	return m, nil
}

func parseInt64(name, s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return n, nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func transitionMessage(ok bool, id, done, skipped string) string {
	if ok {
		return fmt.Sprintf("Experiment %s %s\n", id, done)
	}
	return fmt.Sprintf("Experiment %s %s\n", id, skipped)
}
