package prepare

import (
	"fmt"
	"sort"
	"strings"
)

// Preset describes one way of producing a checkpoint directory.
type Preset struct {
	Name        string
	Description string
	Repo        string         // default Hub repository
	Labels      map[int]string // written to config.json after download; nil keeps the repo's labels
	// SkipExisting leaves an existing checkpoint untouched unless forced.
	SkipExisting bool
}

var presets = map[string]Preset{
	"base": {
		Name:         "base",
		Description:  "base sequence-classification checkpoint",
		Repo:         "optimum/distilbert-base-uncased-finetuned-sst-2-english",
		SkipExisting: true,
	},
	"sst2": {
		Name:        "sst2",
		Description: "checkpoint fine-tuned for binary sentiment (SST-2) with normalized labels",
		Repo:        "Xenova/distilbert-base-uncased-finetuned-sst-2-english",
		Labels:      map[int]string{0: "negative", 1: "positive"},
	},
}

// Lookup returns the preset registered under name.
func Lookup(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("prepare: unknown preset %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names returns the registered preset names, sorted.
func Names() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
