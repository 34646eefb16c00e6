package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("artifact: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("artifact: malformed frontmatter")
)

// Metadata describes a saved council report.
type Metadata struct {
	RunID       string
	Task        string
	Members     int
	Model       string
	Policy      string
	Constraints []string
	Completed   int
	Failed      int
	TimedOut    int
	Synthesized bool
	CreatedAt   time.Time
	Checksum    string
}

// ParseFrontMatter extracts the metadata block and body from a document that starts
// with `---` YAML fences.
func ParseFrontMatter(content []byte) (Metadata, []byte, error) {
	if len(content) == 0 {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	normalized := normalizeNewlines(content)
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Metadata{}, nil, ErrMissingFrontMatter
	}
	rest := normalized[4:]
	parts := bytes.SplitN(rest, []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Metadata{}, nil, ErrMalformedFrontMatter
	}
	var envelope councilEnvelope
	if err := yaml.Unmarshal(parts[0], &envelope); err != nil {
		return Metadata{}, nil, fmt.Errorf("artifact: parse frontmatter: %w", err)
	}
	meta, err := envelope.toMetadata()
	if err != nil {
		return Metadata{}, nil, err
	}
	return meta, bytes.TrimPrefix(parts[1], []byte("\n")), nil
}

// WriteFrontMatter renders metadata + body with YAML fences.
func WriteFrontMatter(meta Metadata, body []byte) ([]byte, error) {
	if meta.RunID == "" {
		return nil, fmt.Errorf("artifact: metadata missing run id")
	}
	envelope := councilEnvelope{}
	envelope.fromMetadata(meta)
	data, err := yaml.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("artifact: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type councilEnvelope struct {
	Council councilMetadata `yaml:"council"`
}

type councilMetadata struct {
	Run         string      `yaml:"run"`
	Task        string      `yaml:"task"`
	Members     int         `yaml:"members"`
	Model       string      `yaml:"model,omitempty"`
	Policy      string      `yaml:"policy,omitempty"`
	Constraints []string    `yaml:"constraints,omitempty"`
	Tally       tallyFields `yaml:"tally"`
	Synthesized bool        `yaml:"synthesized"`
	Created     string      `yaml:"created"`
	Checksum    string      `yaml:"checksum,omitempty"`
}

type tallyFields struct {
	Completed int `yaml:"completed"`
	Failed    int `yaml:"failed"`
	TimedOut  int `yaml:"timed_out"`
}

func (e councilEnvelope) toMetadata() (Metadata, error) {
	if e.Council.Run == "" || e.Council.Members < 1 {
		return Metadata{}, ErrMalformedFrontMatter
	}
	created, err := parseTime(e.Council.Created)
	if err != nil {
		return Metadata{}, fmt.Errorf("artifact: parse created timestamp: %w", err)
	}
	return Metadata{
		RunID:       e.Council.Run,
		Task:        e.Council.Task,
		Members:     e.Council.Members,
		Model:       e.Council.Model,
		Policy:      e.Council.Policy,
		Constraints: append([]string{}, e.Council.Constraints...),
		Completed:   e.Council.Tally.Completed,
		Failed:      e.Council.Tally.Failed,
		TimedOut:    e.Council.Tally.TimedOut,
		Synthesized: e.Council.Synthesized,
		CreatedAt:   created,
		Checksum:    e.Council.Checksum,
	}, nil
}

func (e *councilEnvelope) fromMetadata(meta Metadata) {
	e.Council = councilMetadata{
		Run:         meta.RunID,
		Task:        meta.Task,
		Members:     meta.Members,
		Model:       meta.Model,
		Policy:      meta.Policy,
		Constraints: append([]string{}, meta.Constraints...),
		Tally: tallyFields{
			Completed: meta.Completed,
			Failed:    meta.Failed,
			TimedOut:  meta.TimedOut,
		},
		Synthesized: meta.Synthesized,
		Created:     meta.CreatedAt.UTC().Format(timeLayout),
		Checksum:    meta.Checksum,
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func parseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("artifact: empty created timestamp")
	}
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func normalizeNewlines(content []byte) []byte {
	return bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
}
