package trigger

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PhraseConfig declares one trigger kind. Phrases are plain substrings;
// Wake and Intent together form a co-occurrence trigger.
type PhraseConfig struct {
	Phrases []string `yaml:"phrases"`
	Wake    []string `yaml:"wake,omitempty"`
	Intent  []string `yaml:"intent,omitempty"`
}

// Pattern compiles the configuration. Plain phrases take priority over the
// wake+intent grammar when both match at the same offset.
func (c PhraseConfig) Pattern() Pattern {
	var patterns Any
	if set := NewPhraseSet(c.Phrases...); len(set) > 0 {
		patterns = append(patterns, set)
	}
	wake := NewPhraseSet(c.Wake...)
	intent := NewPhraseSet(c.Intent...)
	if len(wake) > 0 && len(intent) > 0 {
		patterns = append(patterns, WakeIntent{Wake: wake, Intent: intent})
	}
	if len(patterns) == 1 {
		return patterns[0]
	}
	return patterns
}

func (c PhraseConfig) empty() bool {
	return len(NewPhraseSet(c.Phrases...)) == 0 &&
		(len(NewPhraseSet(c.Wake...)) == 0 || len(NewPhraseSet(c.Intent...)) == 0)
}

// ChartConfig holds the visualization capture triggers.
type ChartConfig struct {
	Start PhraseConfig `yaml:"start"`
	Stop  PhraseConfig `yaml:"stop"`
}

// Matcher compiles the chart triggers.
func (c ChartConfig) Matcher() Matcher {
	return Matcher{Start: c.Start.Pattern(), Stop: c.Stop.Pattern()}
}

// IntentConfig describes one automation intent.
type IntentConfig struct {
	Kind     string   `yaml:"kind"`
	Keywords []string `yaml:"keywords"`
	Required []string `yaml:"required,omitempty"`
}

// CommandConfig holds the "wake assistant ... end" command grammar.
type CommandConfig struct {
	Wake      string         `yaml:"wake"`
	Assistant string         `yaml:"assistant"`
	End       string         `yaml:"end"`
	Fillers   []string       `yaml:"fillers"`
	Intents   []IntentConfig `yaml:"intents"`
}

// Config is the full phrase configuration.
type Config struct {
	Chart   ChartConfig   `yaml:"chart"`
	Command CommandConfig `yaml:"command"`
}

// Default returns the built-in phrase configuration.
func Default() Config {
	return Config{
		Chart: ChartConfig{
			Start: PhraseConfig{
				Phrases: []string{"start chart", "start a chart", "begin chart", "start the chart"},
				Wake:    []string{"hey neuro", "hey nero", "hey neural", "a neuro", "hey new row"},
				Intent:  []string{"create a chart", "make a chart", "build a chart", "chart this", "visualize"},
			},
			Stop: PhraseConfig{
				Phrases: []string{"end chart", "stop chart", "finish chart", "end the chart", "stop the chart"},
			},
		},
		Command: CommandConfig{
			Wake:      "hey",
			Assistant: "neuro",
			End:       "over",
			Fillers:   []string{"please", "kindly", "um", "uh", "erm", "hmm", "you know", "thank you", "thanks"},
			Intents: []IntentConfig{
				{Kind: "schedule_meeting", Keywords: []string{"schedule", "meeting", "calendar", "book", "invite"}, Required: []string{"when"}},
				{Kind: "send_email", Keywords: []string{"email", "e-mail", "mail"}, Required: []string{"summary"}},
				{Kind: "create_reminder", Keywords: []string{"remind", "reminder"}, Required: []string{"when"}},
				{Kind: "create_task", Keywords: []string{"task", "todo", "to-do", "follow up", "action item"}, Required: []string{"summary"}},
			},
		},
	}
}

// LoadFile reads a YAML phrase file on top of the defaults. An empty path
// or a missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read phrase file %q: %w", path, err)
	}

	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse phrase file %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("phrase file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that every trigger kind can match something.
func (c Config) Validate() error {
	if c.Chart.Start.empty() {
		return errors.New("chart.start has no usable phrases")
	}
	if c.Chart.Stop.empty() {
		return errors.New("chart.stop has no usable phrases")
	}
	if strings.TrimSpace(c.Command.Wake) == "" || strings.TrimSpace(c.Command.Assistant) == "" {
		return errors.New("command.wake and command.assistant are required")
	}
	if strings.TrimSpace(c.Command.End) == "" {
		return errors.New("command.end is required")
	}
	for i, intent := range c.Command.Intents {
		if strings.TrimSpace(intent.Kind) == "" {
			return fmt.Errorf("command.intents[%d]: kind is required", i)
		}
		if len(intent.Keywords) == 0 {
			return fmt.Errorf("command.intents[%d]: keywords are required", i)
		}
	}
	return nil
}
