package persona

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"brokerdesk.sg/relay/common"
	"brokerdesk.sg/relay/internal/model"
)

//go:embed personas.yaml
var defaultConfig []byte

type Band struct {
	Name     string   `yaml:"name"`
	MinScore int      `yaml:"min_score"`
	Pool     []string `yaml:"pool"`
}

type Config struct {
	Bands    []Band                `yaml:"bands"`
	Personas []model.BrokerPersona `yaml:"personas"`
}

// LoadConfig reads the band and persona definitions from path, or the
// embedded defaults when path is empty.
func LoadConfig(path string) (Config, error) {
	data := defaultConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading persona config %s: %w", path, err)
		}
		data = b
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing persona config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize fills missing ids, sorts bands from highest to lowest and checks
// every pool entry resolves to a persona.
func (c *Config) normalize() error {
	if len(c.Bands) == 0 {
		return fmt.Errorf("persona config: no bands defined")
	}

	ids := make(map[string]struct{}, len(c.Personas))
	for i := range c.Personas {
		p := &c.Personas[i]
		if p.ID == "" {
			slug, err := common.Slugify(p.Name, "")
			if err != nil {
				return fmt.Errorf("persona config: persona %d has neither id nor name", i)
			}
			p.ID = slug
		}
		if !p.Type.Valid() {
			return fmt.Errorf("persona config: persona %s has unknown type %q", p.ID, p.Type)
		}
		if _, dup := ids[p.ID]; dup {
			return fmt.Errorf("persona config: duplicate persona id %s", p.ID)
		}
		ids[p.ID] = struct{}{}
	}

	for _, b := range c.Bands {
		if len(b.Pool) == 0 {
			return fmt.Errorf("persona config: band %s has an empty pool", b.Name)
		}
		for _, id := range b.Pool {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("persona config: band %s references unknown persona %s", b.Name, id)
			}
		}
	}

	sort.SliceStable(c.Bands, func(i, j int) bool {
		return c.Bands[i].MinScore > c.Bands[j].MinScore
	})
	return nil
}
