package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Freshair129/agentic-agent/internal/memory"
)

// SeedFile is the bootstrap input: knowledge for the immutable tiers and
// hand-drawn concept edges.
type SeedFile struct {
	Entries []SeedEntry `yaml:"entries" validate:"dive"`
	Edges   []SeedEdge  `yaml:"edges" validate:"dive"`
}

type SeedEntry struct {
	Tier                string   `yaml:"tier" validate:"oneof=core sphere"`
	Domain              string   `yaml:"domain" validate:"oneof=safety identity knowledge contextual meta"`
	Content             string   `yaml:"content" validate:"required"`
	Subject             string   `yaml:"subject"`
	Polarity            int      `yaml:"polarity" validate:"min=-1,max=1"`
	Confidence          float64  `yaml:"confidence" validate:"gt=0,lte=1"`
	Tags                []string `yaml:"tags"`
	Salience            float64  `yaml:"salience" validate:"gte=0,lte=1"`
	ExternallyConfirmed bool     `yaml:"externally_confirmed"`
	Evidence            []string `yaml:"evidence"`
}

type SeedEdge struct {
	Source string  `yaml:"source" validate:"required"`
	Target string  `yaml:"target" validate:"required,nefield=Source"`
	Weight float64 `yaml:"weight" validate:"gt=0,lte=1"`
}

// LoadSeed reads and validates a seed file. Unknown keys are rejected.
func LoadSeed(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s SeedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if err := validator.New().Struct(&s); err != nil {
		return nil, fmt.Errorf("invalid seed %s: %w", path, err)
	}
	return &s, nil
}

// Entry converts a seed row into the memory entry the Governor commits.
func (e SeedEntry) Entry() (memory.Tier, memory.Entry) {
	return memory.Tier(e.Tier), memory.Entry{
		Domain:              memory.Domain(e.Domain),
		Content:             e.Content,
		Subject:             e.Subject,
		Polarity:            e.Polarity,
		Confidence:          e.Confidence,
		Tags:                e.Tags,
		Salience:            e.Salience,
		ExternallyConfirmed: e.ExternallyConfirmed,
		Evidence:            e.Evidence,
	}
}
