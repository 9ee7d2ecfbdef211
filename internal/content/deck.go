package content

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/peer-scheduler/internal/persistence"
)

//go:embed decks.yaml
var embeddedDecks []byte

const defaultDeck = "default"

type deckFile struct {
	Sparks struct {
		Same      string `yaml:"same"`
		Different string `yaml:"different"`
	} `yaml:"sparks"`
	Decks map[string][]persistence.Prompt `yaml:"decks"`
}

// DeckGenerator serves prompts from static decks. It never calls out and is
// the fallback for every other generator.
type DeckGenerator struct {
	decks         map[string][]persistence.Prompt
	sparkSame     string
	sparkDiffered string
}

// NewDeckGenerator loads the decks compiled into the binary.
func NewDeckGenerator() (*DeckGenerator, error) {
	return ParseDecks(embeddedDecks)
}

// ParseDecks builds a DeckGenerator from YAML. A "default" deck is required.
func ParseDecks(data []byte) (*DeckGenerator, error) {
	var file deckFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse decks: %w", err)
	}

	decks := make(map[string][]persistence.Prompt, len(file.Decks))
	for topic, prompts := range file.Decks {
		valid, err := validatePrompts(prompts, len(prompts))
		if err != nil {
			return nil, fmt.Errorf("deck %q: %w", topic, err)
		}
		decks[strings.ToLower(topic)] = valid
	}
	if _, ok := decks[defaultDeck]; !ok {
		return nil, fmt.Errorf("parse decks: missing %q deck", defaultDeck)
	}

	g := &DeckGenerator{
		decks:         decks,
		sparkSame:     file.Sparks.Same,
		sparkDiffered: file.Sparks.Different,
	}
	if g.sparkSame == "" {
		g.sparkSame = "You both chose %s."
	}
	if g.sparkDiffered == "" {
		g.sparkDiffered = "%s and %s."
	}
	return g, nil
}

// GeneratePrompts returns the first count prompts of the topic's deck, or of
// the default deck, topped up from the default deck when the topic deck is
// short.
func (g *DeckGenerator) GeneratePrompts(_ context.Context, topic string, count int) ([]persistence.Prompt, error) {
	if count <= 0 {
		return nil, ErrNoPrompts
	}

	prompts := append([]persistence.Prompt(nil), g.decks[strings.ToLower(topic)]...)
	seen := make(map[string]struct{}, len(prompts))
	for _, p := range prompts {
		seen[p.Question] = struct{}{}
	}
	for _, p := range g.decks[defaultDeck] {
		if len(prompts) >= count {
			break
		}
		if _, dup := seen[p.Question]; !dup {
			prompts = append(prompts, p)
		}
	}

	if len(prompts) > count {
		prompts = prompts[:count]
	}
	return clonePrompts(prompts), nil
}

// GenerateSpark fills the same-answer or different-answer template.
func (g *DeckGenerator) GenerateSpark(_ context.Context, _ string, answerA, answerB string) (string, error) {
	if answerA == answerB {
		return fmt.Sprintf(g.sparkSame, answerA), nil
	}
	return fmt.Sprintf(g.sparkDiffered, answerA, answerB), nil
}

// Topics lists the topics with a dedicated deck.
func (g *DeckGenerator) Topics() []string {
	topics := make([]string, 0, len(g.decks))
	for topic := range g.decks {
		if topic != defaultDeck {
			topics = append(topics, topic)
		}
	}
	return topics
}
