package corpus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hybridqa-core/server/internal/agent/model"
	logx "github.com/hybridqa-core/server/pkg/logger"
)

const (
	FormatHybridQA = "hybridqa"
	FormatYAML     = "yaml"
)

// Load builds the repository described by cfg.
func Load(cfg model.CorpusConfig) (*Repository, error) {
	var (
		repo *Repository
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case FormatHybridQA, "":
		repo, err = LoadHybridQA(cfg.Dir, cfg.Generation)
	case FormatYAML:
		repo, err = LoadYAML(cfg.Dir, cfg.Generation)
	default:
		return nil, fmt.Errorf("unknown corpus format %q", cfg.Format)
	}
	if err != nil {
		return nil, err
	}
	logx.Info().
		Str("format", cfg.Format).
		Str("generation", repo.Generation()).
		Int("tables", len(repo.tableIDs)).
		Int("passages", len(repo.passageIDs)).
		Msg("Corpus loaded")
	return repo, nil
}

// hybridCell is a HybridQA [text, [links...]] pair.
type hybridCell struct {
	Text  string
	Links []string
}

func (c *hybridCell) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("cell is not an array: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw[0], &c.Text); err != nil {
		return fmt.Errorf("cell text: %w", err)
	}
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &c.Links); err != nil {
			return fmt.Errorf("cell links: %w", err)
		}
	}
	return nil
}

type hybridTable struct {
	Title  string         `json:"title"`
	URL    string         `json:"url"`
	Header []hybridCell   `json:"header"`
	Data   [][]hybridCell `json:"data"`
}

// LoadHybridQA reads the WikiTables-WithLinks layout: tables_tok/<uid>.json
// and request_tok/<uid>.json (passage link to text).
func LoadHybridQA(dir, generation string) (*Repository, error) {
	tableFiles, err := jsonFiles(filepath.Join(dir, "tables_tok"))
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(tableFiles))
	for _, path := range tableFiles {
		var ht hybridTable
		if err := readJSON(path, &ht); err != nil {
			return nil, err
		}
		t := Table{ID: stem(path), Title: ht.Title, URL: ht.URL}
		for _, h := range ht.Header {
			t.Header = append(t.Header, h.Text)
		}
		for _, row := range ht.Data {
			cells := make([]string, len(row))
			links := make([][]string, len(row))
			for i, c := range row {
				cells[i] = c.Text
				links[i] = c.Links
			}
			t.Rows = append(t.Rows, cells)
			t.Links = append(t.Links, links)
		}
		tables = append(tables, t)
	}

	requestFiles, err := jsonFiles(filepath.Join(dir, "request_tok"))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	byID := map[string]*Passage{}
	for _, path := range requestFiles {
		var texts map[string]string
		if err := readJSON(path, &texts); err != nil {
			return nil, err
		}
		owner := stem(path)
		for link, text := range texts {
			p, ok := byID[link]
			if !ok {
				p = &Passage{ID: link, Text: text}
				byID[link] = p
			}
			p.TableIDs = appendUnique(p.TableIDs, owner)
		}
	}
	passages := make([]Passage, 0, len(byID))
	for _, p := range byID {
		passages = append(passages, *p)
	}

	return New(generation, tables, passages)
}

type yamlCorpus struct {
	Generation string        `yaml:"generation"`
	Tables     []yamlTable   `yaml:"tables"`
	Passages   []yamlPassage `yaml:"passages"`
}

type yamlTable struct {
	ID     string       `yaml:"id"`
	Title  string       `yaml:"title"`
	URL    string       `yaml:"url"`
	Header []string     `yaml:"header"`
	Rows   [][]string   `yaml:"rows"`
	Links  [][][]string `yaml:"links"`
}

type yamlPassage struct {
	ID     string   `yaml:"id"`
	Text   string   `yaml:"text"`
	Tables []string `yaml:"tables"`
}

// LoadYAML reads a hand-written corpus file. A generation in the file wins
// over the configured one.
func LoadYAML(path, generation string) (*Repository, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus %s: %w", path, err)
	}
	return ParseYAML(data, generation)
}

// ParseYAML decodes a YAML corpus document.
func ParseYAML(data []byte, generation string) (*Repository, error) {
	var doc yamlCorpus
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse corpus yaml: %w", err)
	}
	if doc.Generation != "" {
		generation = doc.Generation
	}
	tables := make([]Table, 0, len(doc.Tables))
	for _, t := range doc.Tables {
		tables = append(tables, Table{
			ID:     t.ID,
			Title:  t.Title,
			URL:    t.URL,
			Header: t.Header,
			Rows:   t.Rows,
			Links:  t.Links,
		})
	}
	passages := make([]Passage, 0, len(doc.Passages))
	for _, p := range doc.Passages {
		passages = append(passages, Passage{ID: p.ID, Text: p.Text, TableIDs: p.Tables})
	}
	return New(generation, tables, passages)
}

func jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func stem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
