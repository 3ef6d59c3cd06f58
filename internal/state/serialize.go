package state

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/stackform-io/stackform/internal/ir"
)

const stateVersion = 1

type stateFile struct {
	Version   int          `json:"version"`
	Serial    int          `json:"serial"`
	Lineage   string       `json:"lineage"`
	Resources []*entryJSON `json:"resources"`
}

type entryJSON struct {
	Address      string                     `json:"address"`
	Type         string                     `json:"type"`
	Name         string                     `json:"name"`
	Index        int                        `json:"index"`
	Provider     string                     `json:"provider"`
	ID           string                     `json:"id,omitempty"`
	Attributes   map[string]json.RawMessage `json:"attributes"`
	Dependencies []string                   `json:"dependencies,omitempty"`
	LastSuccess  time.Time                  `json:"lastSuccess"`
}

// serializeEntries renders entries as the on-disk JSON document. Attribute
// values carry their cty type so round-trips are lossless.
func serializeEntries(entries map[string]*ir.StateEntry, serial int, lineage string) ([]byte, error) {
	doc := &stateFile{
		Version:   stateVersion,
		Serial:    serial,
		Lineage:   lineage,
		Resources: make([]*entryJSON, 0, len(entries)),
	}

	addrs := make([]string, 0, len(entries))
	for addr := range entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		entry := entries[addr]
		ej := &entryJSON{
			Address:      entry.Address,
			Type:         entry.Type,
			Name:         entry.Name,
			Index:        entry.Index,
			Provider:     entry.Provider,
			ID:           entry.ProviderID,
			Attributes:   make(map[string]json.RawMessage, len(entry.Attributes)),
			Dependencies: entry.Dependencies,
			LastSuccess:  entry.LastSuccess,
		}
		for name, val := range entry.Attributes {
			raw, err := ctyjson.Marshal(val, cty.DynamicPseudoType)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s.%s: %w", addr, name, err)
			}
			ej.Attributes[name] = raw
		}
		doc.Resources = append(doc.Resources, ej)
	}

	return json.MarshalIndent(doc, "", "  ")
}

// parseEntries loads the on-disk JSON document back into entries.
func parseEntries(data []byte) (map[string]*ir.StateEntry, int, string, error) {
	var doc stateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, "", fmt.Errorf("failed to parse state file: %w", err)
	}
	if doc.Version != 0 && doc.Version != stateVersion {
		return nil, 0, "", fmt.Errorf("unsupported state version %d", doc.Version)
	}

	entries := make(map[string]*ir.StateEntry, len(doc.Resources))
	for _, ej := range doc.Resources {
		entry := &ir.StateEntry{
			Address:      ej.Address,
			Type:         ej.Type,
			Name:         ej.Name,
			Index:        ej.Index,
			Provider:     ej.Provider,
			ProviderID:   ej.ID,
			Attributes:   make(map[string]cty.Value, len(ej.Attributes)),
			Dependencies: ej.Dependencies,
			LastSuccess:  ej.LastSuccess,
		}
		for name, raw := range ej.Attributes {
			val, err := ctyjson.Unmarshal(raw, cty.DynamicPseudoType)
			if err != nil {
				return nil, 0, "", fmt.Errorf("failed to decode %s.%s: %w", ej.Address, name, err)
			}
			entry.Attributes[name] = val
		}
		entries[entry.Address] = entry
	}

	return entries, doc.Serial, doc.Lineage, nil
}

// newLineage mints the identifier that ties successive serials of one state
// together.
func newLineage() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("lineage-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
