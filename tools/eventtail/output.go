package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sociomile/realtime-go/realtime"
	"gopkg.in/yaml.v3"
)

type envelopePrinter interface {
	Print(envelope realtime.Envelope) error
}

func newPrinter(format string, out io.Writer) (envelopePrinter, error) {
	switch format {
	case OutputJSON:
		return &jsonPrinter{encoder: json.NewEncoder(out)}, nil
	case OutputYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		return &yamlPrinter{encoder: encoder}, nil
	default:
		return nil, fmt.Errorf("unsupported output %q", format)
	}
}

type jsonPrinter struct {
	lock    sync.Mutex
	encoder *json.Encoder
}

func (printer *jsonPrinter) Print(envelope realtime.Envelope) error {
	printer.lock.Lock()
	defer printer.lock.Unlock()
	return printer.encoder.Encode(envelope)
}

type yamlDocument struct {
	Type    string      `yaml:"type,omitempty"`
	Payload interface{} `yaml:"payload,omitempty"`
}

// yamlPrinter writes one YAML document per envelope, separated by "---".
type yamlPrinter struct {
	lock    sync.Mutex
	encoder *yaml.Encoder
}

func (printer *yamlPrinter) Print(envelope realtime.Envelope) error {
	document := yamlDocument{Type: envelope.Type}
	if len(envelope.Payload) > 0 {
		if err := json.Unmarshal(envelope.Payload, &document.Payload); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	printer.lock.Lock()
	defer printer.lock.Unlock()
	return printer.encoder.Encode(document)
}
