// Package policy implements the Command Policy: a read-mostly ordered list
// of per-base-command records (label, resume pattern/flag/command, stop
// sequence), defaults in code overridable by a user-editable config.yaml,
// reloaded on demand rather than cached per-create.
package policy

import (
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"conductor/src/handler/pty"
)

// Record is matched against shlex-split(command)[0].
type Record struct {
	Command       string   `yaml:"command" json:"command"`
	Label         string   `yaml:"label" json:"label"`
	ResumePattern string   `yaml:"resume_pattern,omitempty" json:"resume_pattern,omitempty"`
	ResumeFlag    string   `yaml:"resume_flag,omitempty" json:"resume_flag,omitempty"`
	ResumeCommand string   `yaml:"resume_command,omitempty" json:"resume_command,omitempty"`
	StopSequence  []string `yaml:"stop_sequence,omitempty" json:"-"`
	Whitelisted   bool     `yaml:"whitelisted" json:"whitelisted"`

	compiledPattern *regexp.Regexp
}

// CompiledPattern lazily compiles ResumePattern (it is validated at load
// time, so compilation here cannot fail in practice).
func (r *Record) CompiledPattern() *regexp.Regexp {
	if r.ResumePattern == "" {
		return nil
	}
	if r.compiledPattern == nil {
		r.compiledPattern = regexp.MustCompile(r.ResumePattern)
	}
	return r.compiledPattern
}

// Provider is the injected indirection the Session Registry consults on
// every create — it never caches a Record across calls, so a config reload
// takes effect for the very next session.
type Provider interface {
	Get(baseCommand string) (Record, bool)
	Version() int
	Reload() error
}

// document is the on-disk shape of config.yaml.
type document struct {
	Commands []Record `yaml:"commands"`
}

// fileProvider loads defaults from code and merges config.yaml commands
// over them by Command key, mirroring grove's loadInRepoConfig
// overlay-over-defaults pattern.
type fileProvider struct {
	path string

	mu      sync.RWMutex
	byCmd   map[string]Record
	version int
}

// Defaults returns the code-shipped Command Policy records for agent CLIs
// commonly launched by this daemon.
func Defaults() []Record {
	return []Record{
		{
			Command:     "claude",
			Label:       "Claude Code",
			ResumeFlag:  "--resume",
			Whitelisted: true,
			StopSequence: []string{
				"\x03",
				"/exit",
				"\r",
			},
		},
		{
			Command:       "codex",
			Label:         "Codex",
			ResumeCommand: "codex resume --last",
			Whitelisted:   true,
			StopSequence: []string{
				"\x03",
				"/exit",
				"\r",
			},
		},
		{
			Command:     "bash",
			Label:       "Shell",
			Whitelisted: true,
		},
		{
			Command:     "sh",
			Label:       "Shell",
			Whitelisted: true,
		},
	}
}

// NewFileProvider builds a Provider rooted at path (typically
// <state-root>/config.yaml). The file need not exist; defaults apply.
func NewFileProvider(path string) (Provider, error) {
	p := &fileProvider{path: path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *fileProvider) Reload() error {
	merged := make(map[string]Record)
	for _, r := range Defaults() {
		merged[r.Command] = r
	}

	if p.path != "" {
		data, err := os.ReadFile(p.path)
		if err == nil {
			var doc document
			if yerr := yaml.Unmarshal(data, &doc); yerr != nil {
				return yerr
			}
			for _, r := range doc.Commands {
				if r.ResumePattern != "" {
					if _, cerr := regexp.Compile(r.ResumePattern); cerr != nil {
						return cerr
					}
				}
				merged[r.Command] = r
			}
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	p.mu.Lock()
	p.byCmd = merged
	p.version++
	p.mu.Unlock()
	return nil
}

func (p *fileProvider) Get(baseCommand string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.byCmd[baseCommand]
	return r, ok
}

func (p *fileProvider) Version() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.version
}

// BaseCommand returns the first shell-lexical token of command, the key
// Command Policy records are matched against.
func BaseCommand(command string) (string, error) {
	args, err := pty.SplitCommand(command)
	if err != nil {
		return "", err
	}
	if len(args) == 0 {
		return "", nil
	}
	return args[0], nil
}
