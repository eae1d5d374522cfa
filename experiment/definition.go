package experiment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Definition is the experiment as declared in its YAML file.
type Definition struct {
	Name           string          `yaml:"name"`
	Repository     string          `yaml:"repository"`
	DataDir        string          `yaml:"data_dir"`
	Revisions      []RevisionRef   `yaml:"revisions"`
	Build          BuildSpec       `yaml:"build"`
	BenchmarksDir  string          `yaml:"benchmarks_dir"`
	Suite          []string        `yaml:"suite"`
	TestSuite      []string        `yaml:"test_suite"`
	Configurations []Configuration `yaml:"configurations"`
	Command        CommandSpec     `yaml:"command"`
	Limits         LimitsSpec      `yaml:"limits"`
	Environment    EnvironmentSpec `yaml:"environment"`
	Parsers        []ParserSpec    `yaml:"parsers"`
	Attributes     []AttributeSpec `yaml:"attributes"`
	Reports        []ReportSpec    `yaml:"reports"`
	Archive        ArchiveSpec     `yaml:"archive"`
}

// BuildSpec selects the build flags and the executable inside a build.
type BuildSpec struct {
	Name       string   `yaml:"name"`
	Flags      []string `yaml:"flags"`
	Executable string   `yaml:"executable"`
	Jobs       int      `yaml:"jobs"`
}

// CommandSpec is the argument template of the command under test.
type CommandSpec struct {
	Args  []string `yaml:"args"`
	Stdin string   `yaml:"stdin"`
}

// LimitsSpec holds per-run resource limits.
type LimitsSpec struct {
	Time   Duration `yaml:"time"`
	Memory ByteSize `yaml:"memory"`
	CPUs   int      `yaml:"cpus"`
}

// EnvironmentSpec selects and configures the execution backend.
type EnvironmentSpec struct {
	Kind         string   `yaml:"kind"`
	Processes    int      `yaml:"processes"`
	Partition    string   `yaml:"partition"`
	Email        string   `yaml:"email"`
	MemoryPerCPU string   `yaml:"memory_per_cpu"`
	CPUsPerTask  int      `yaml:"cpus_per_task"`
	Time         string   `yaml:"time"`
	Export       []string `yaml:"export"`
	Setup        string   `yaml:"setup"`
	PollInterval Duration `yaml:"poll_interval"`
	Sbatch       string   `yaml:"sbatch"`
	Sacct        string   `yaml:"sacct"`
}

// ParserSpec declares an extra log parser made of regex patterns.
type ParserSpec struct {
	Name     string        `yaml:"name"`
	Patterns []PatternSpec `yaml:"patterns"`
}

// PatternSpec maps the first submatch of Regex to Attribute. Type is
// "int", "float" or "flag"; a flag records 1 when the regex matches.
type PatternSpec struct {
	Attribute string `yaml:"attribute"`
	Regex     string `yaml:"regex"`
	Type      string `yaml:"type"`
}

// AttributeSpec declares or overrides a report attribute.
type AttributeSpec struct {
	Name     string `yaml:"name"`
	Absolute bool   `yaml:"absolute"`
	MinWins  *bool  `yaml:"min_wins"`
	Function string `yaml:"function"`
	Digits   *int   `yaml:"digits"`
}

// ReportSpec declares one report.
type ReportSpec struct {
	Name       string     `yaml:"name"`
	Mode       string     `yaml:"mode"`
	Axis       string     `yaml:"axis"`
	Attributes []string   `yaml:"attributes"`
	Filter     FilterSpec `yaml:"filter"`
}

// FilterSpec selects runs by identity.
type FilterSpec struct {
	Algorithms []string `yaml:"algorithms"`
	Contains   []string `yaml:"contains"`
	Domains    []string `yaml:"domains"`
	Revisions  []string `yaml:"revisions"`
}

// ArchiveSpec names the durable destination of finished experiments.
type ArchiveSpec struct {
	Destination string `yaml:"destination"`
	Endpoint    string `yaml:"endpoint"`
	Region      string `yaml:"region"`
	UseSSL      bool   `yaml:"use_ssl"`
}

// Duration is a time.Duration decoded from strings such as "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(v)

	return nil
}

// ByteSize is a byte count decoded from strings such as "3940MiB" or "2G".
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	v, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*b = ByteSize(v)

	return nil
}

const (
	defaultTimeLimit   = 30 * time.Minute
	defaultMemoryLimit = 3584 * humanize.MiByte
	defaultProcesses   = 4
	defaultDataDir     = "data"
)

// Load reads and validates a definition from path.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read experiment %s: %w", path, err)
	}

	def, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("experiment %s: %w", path, err)
	}

	if !filepath.IsAbs(def.DataDir) {
		def.DataDir = filepath.Join(filepath.Dir(path), def.DataDir)
	}

	return def, nil
}

// Decode parses a definition, expands ${VAR} references in path fields,
// fills defaults and validates the result.
func Decode(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, Errorf("", "empty definition")
		}

		return nil, &ConfigurationError{Msg: err.Error()}
	}

	def.Repository = expandVars(def.Repository)
	def.DataDir = expandVars(def.DataDir)
	def.BenchmarksDir = expandVars(def.BenchmarksDir)
	def.Archive.Destination = expandVars(def.Archive.Destination)

	def.applyDefaults()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandVars replaces ${VAR} only; bare $VAR is left alone so shell
// snippets such as the batch setup preamble survive unchanged.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

func (d *Definition) applyDefaults() {
	if d.Build.Name == "" {
		d.Build.Name = "release"
	}
	if len(d.Command.Args) == 0 {
		d.Command.Args = []string{"{config}"}
	}
	if d.Limits.Time == 0 {
		d.Limits.Time = Duration(defaultTimeLimit)
	}
	if d.Limits.Memory == 0 {
		d.Limits.Memory = ByteSize(defaultMemoryLimit)
	}
	if d.Limits.CPUs == 0 {
		d.Limits.CPUs = 1
	}
	if d.Environment.Kind == "" {
		d.Environment.Kind = "local"
	}
	if d.Environment.Processes == 0 {
		d.Environment.Processes = defaultProcesses
	}
	if d.Environment.PollInterval == 0 {
		d.Environment.PollInterval = Duration(time.Minute)
	}
	if len(d.TestSuite) == 0 {
		d.TestSuite = DefaultTestSuite
	}
	if d.DataDir == "" {
		d.DataDir = defaultDataDir
	}
	if len(d.Reports) == 0 {
		d.Reports = []ReportSpec{{Name: "abs"}}
	}
	for i := range d.Reports {
		if d.Reports[i].Mode == "" {
			d.Reports[i].Mode = "absolute"
		}
	}
}

// Validate checks everything that can be checked without touching the
// file system. Expansion and suite resolution report the rest.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return Errorf("name", "is required")
	}
	if strings.ContainsAny(d.Name, `/\`) {
		return Errorf("name", "must not contain path separators")
	}
	if len(d.Revisions) == 0 {
		return Errorf("revisions", "at least one revision is required")
	}
	if len(d.Configurations) == 0 {
		return Errorf("configurations", "at least one configuration is required")
	}
	if len(d.Suite) == 0 {
		return Errorf("suite", "is required")
	}
	if d.Build.Executable == "" {
		return Errorf("build.executable", "is required")
	}

	if err := checkUnique(d.Revisions, d.Configurations, nil); err != nil {
		return err
	}

	switch d.Environment.Kind {
	case "local":
	case "slurm":
		if d.Environment.Partition == "" {
			return Errorf("environment.partition", "is required for slurm")
		}
	default:
		return Errorf("environment.kind", "unknown backend %q", d.Environment.Kind)
	}

	for i, p := range d.Parsers {
		if p.Name == "" {
			return Errorf(fmt.Sprintf("parsers[%d].name", i), "is required")
		}
		for j, pat := range p.Patterns {
			field := fmt.Sprintf("parsers[%d].patterns[%d]", i, j)
			if pat.Attribute == "" {
				return Errorf(field, "attribute is required")
			}
			if _, err := regexp.Compile(pat.Regex); err != nil {
				return Errorf(field, "bad regex: %v", err)
			}
			switch pat.Type {
			case "", "int", "float", "flag":
			default:
				return Errorf(field, "unknown type %q", pat.Type)
			}
		}
	}

	seenReport := make(map[string]struct{}, len(d.Reports))
	for i, r := range d.Reports {
		field := fmt.Sprintf("reports[%d]", i)
		if r.Name == "" {
			return Errorf(field, "name is required")
		}
		if _, ok := seenReport[r.Name]; ok {
			return Errorf(field, "duplicate report name %q", r.Name)
		}
		seenReport[r.Name] = struct{}{}

		if r.Mode != "absolute" && r.Mode != "comparative" {
			return Errorf(field, "unknown mode %q", r.Mode)
		}
		switch r.Axis {
		case "", "algorithm", "revision", "config":
		default:
			return Errorf(field, "unknown axis %q", r.Axis)
		}
	}

	return nil
}
