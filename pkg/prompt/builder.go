package prompt

import (
	"bytes"
	_ "embed"
	"text/template"

	"github.com/m-mizutani/practiq/pkg/model"
	"gopkg.in/yaml.v3"
)

// QuestionCount is the number of practice questions requested per topic
const QuestionCount = 3

//go:embed templates/base.md
var basePromptRaw string

//go:embed templates/levels.yaml
var levelsRaw []byte

var basePromptTmpl = template.Must(template.New("base").Parse(basePromptRaw))

// Style is the set of stylistic instructions for one expertise level
type Style struct {
	Audience     string   `yaml:"audience"`
	Instructions []string `yaml:"instructions"`
}

var styles = mustLoadStyles(levelsRaw)

func mustLoadStyles(raw []byte) map[model.ExpertiseLevel]Style {
	var out map[model.ExpertiseLevel]Style
	if err := yaml.Unmarshal(raw, &out); err != nil {
		panic("invalid embedded level styles: " + err.Error())
	}
	for _, level := range model.ExpertiseLevels() {
		if _, ok := out[level]; !ok {
			panic("missing embedded level style: " + level.String())
		}
	}
	return out
}

// StyleFor returns the style for level; unknown levels get the intermediate style
func StyleFor(level model.ExpertiseLevel) Style {
	return styles[level.OrDefault()]
}

// Build composes the prompt text sent to the provider. It is deterministic and
// never returns an empty string.
func Build(topic string, level model.ExpertiseLevel) string {
	var buf bytes.Buffer
	err := basePromptTmpl.Execute(&buf, struct {
		Count int
		Topic string
		Style Style
	}{
		Count: QuestionCount,
		Topic: topic,
		Style: StyleFor(level),
	})
	if err != nil {
		// Template and data are both fixed at compile time
		panic("failed to render prompt: " + err.Error())
	}

	return buf.String()
}
