package datasets

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/voxelstack/patchset/voxel"
)

// DataSource describes one volumetric input/target pair: where the voxels
// live, the bounding box registered for windowing, and the normalization
// statistics. When TargetBinary is 1 the target is the scalar TargetClass and
// the target path/bbox are never read.
type DataSource struct {
	ID           string     `json:"id"`
	InputPath    string     `json:"input_path"`
	InputBBox    voxel.BBox `json:"input_bbox"`
	InputMean    float64    `json:"input_mean"`
	InputStd     float64    `json:"input_std"`
	TargetPath   string     `json:"target_path"`
	TargetBBox   voxel.BBox `json:"target_bbox"`
	TargetClass  float64    `json:"target_class"`
	TargetBinary int        `json:"target_binary"`
}

// Role selects the input or target side of a data source.
type Role int

const (
	RoleInput Role = iota
	RoleTarget
)

func (r Role) String() string {
	if r == RoleTarget {
		return "target"
	}
	return "input"
}

// PathFor returns the volume path for a role via explicit branching rather
// than field-name lookup.
func (s DataSource) PathFor(role Role) string {
	if role == RoleTarget {
		return s.TargetPath
	}
	return s.InputPath
}

// BBoxFor returns the registered bounding box for a role.
func (s DataSource) BBoxFor(role Role) voxel.BBox {
	if role == RoleTarget {
		return s.TargetBBox
	}
	return s.InputBBox
}

// Binary reports whether the source's target is a scalar class label.
func (s DataSource) Binary() bool {
	return s.TargetBinary == 1
}

// sourceKey is the long-form JSON key prefix for a data source entry.
const sourceKeyPrefix = "datasource_"

// sharedKey holds properties factored out of every entry in short-form files.
const sharedKey = "shared_properties"

// ReadJSON loads data sources from a descriptor file, accepting both the long
// form (one full entry per source) and the short form (a shared_properties
// object merged into every entry). Entries keep the order they appear in the
// file, since registration order determines global index assignment.
func ReadJSON(path string) ([]DataSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasources %s: %w", path, err)
	}
	keys, entries, err := parseOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("read datasources %s: %w", path, err)
	}

	var shared map[string]json.RawMessage
	if raw, ok := entries[sharedKey]; ok {
		if err := json.Unmarshal(raw, &shared); err != nil {
			return nil, fmt.Errorf("read datasources %s: shared_properties: %w", path, err)
		}
	}

	var sources []DataSource
	for _, key := range keys {
		if key == sharedKey {
			continue
		}
		if !strings.HasPrefix(key, sourceKeyPrefix) {
			return nil, fmt.Errorf("read datasources %s: unexpected key %q", path, key)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(entries[key], &fields); err != nil {
			return nil, fmt.Errorf("read datasources %s: entry %q: %w", path, key, err)
		}
		for k, v := range shared {
			fields[k] = v
		}
		merged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		var src DataSource
		if err := json.Unmarshal(merged, &src); err != nil {
			return nil, fmt.Errorf("read datasources %s: entry %q: %w", path, key, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// parseOrdered decodes a JSON object keeping key order, which encoding/json's
// map decoding would lose.
func parseOrdered(data []byte) (keys []string, entries map[string]json.RawMessage, err error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("expected JSON object, got %v", tok)
	}
	entries = make(map[string]json.RawMessage)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		entries[key] = raw
	}
	return keys, entries, nil
}

// WriteJSON writes the long form: one fully populated entry per source.
func WriteJSON(path string, sources []DataSource) error {
	var b strings.Builder
	b.WriteString("{\n")
	for i, src := range sources {
		entry, err := json.MarshalIndent(src, "    ", "    ")
		if err != nil {
			return err
		}
		fmt.Fprintf(&b, "    %q: %s", sourceKeyPrefix+src.ID, entry)
		if i < len(sources)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString("}\n")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write datasources %s: %w", path, err)
	}
	return nil
}

// SharedProperties returns the JSON fields whose values are identical across
// every source. Comparison is on the rendered JSON value, so bounding boxes
// compare element-wise.
func SharedProperties(sources []DataSource) (map[string]json.RawMessage, error) {
	if len(sources) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	fieldMaps := make([]map[string]json.RawMessage, len(sources))
	for i, src := range sources {
		data, err := json.Marshal(src)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &fieldMaps[i]); err != nil {
			return nil, err
		}
	}
	shared := make(map[string]json.RawMessage)
	for key, first := range fieldMaps[0] {
		identical := true
		for _, fields := range fieldMaps[1:] {
			if !reflect.DeepEqual(fields[key], first) {
				identical = false
				break
			}
		}
		if identical {
			shared[key] = first
		}
	}
	return shared, nil
}

// WriteShortJSON writes the short form: shared properties factored into a
// shared_properties object, entries holding only what differs.
func WriteShortJSON(path string, sources []DataSource) error {
	shared, err := SharedProperties(sources)
	if err != nil {
		return err
	}
	out := make(map[string]any, len(sources)+1)
	if len(shared) > 0 {
		out[sharedKey] = shared
	}
	for _, src := range sources {
		data, err := json.Marshal(src)
		if err != nil {
			return err
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return err
		}
		for key := range shared {
			delete(fields, key)
		}
		out[sourceKeyPrefix+src.ID] = fields
	}
	data, err := json.MarshalIndent(out, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write datasources %s: %w", path, err)
	}
	return nil
}

// Concat merges several descriptor files into one source list, re-assigning
// sequential ids starting at 0.
func Concat(paths []string) ([]DataSource, error) {
	var all []DataSource
	for _, path := range paths {
		sources, err := ReadJSON(path)
		if err != nil {
			return nil, err
		}
		all = append(all, sources...)
	}
	for i := range all {
		all[i].ID = strconv.Itoa(i)
	}
	return all, nil
}

// TargetDiff records one source whose target class differs between two
// descriptor sets.
type TargetDiff struct {
	ID string
	A  float64
	B  float64
}

// CompareTargets diffs two descriptor sets that must describe the same
// volumes: same length, same ids, and all fields except the target class
// equal. Structural mismatches are errors the caller must fix.
func CompareTargets(a, b []DataSource) ([]TargetDiff, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("compare targets: length mismatch: %d != %d", len(a), len(b))
	}
	var diffs []TargetDiff
	for i := range a {
		sa, sb := a[i], b[i]
		if sa.ID != sb.ID {
			return nil, fmt.Errorf("compare targets: id mismatch at %d: %q != %q", i, sa.ID, sb.ID)
		}
		na, nb := sa, sb
		na.TargetClass, nb.TargetClass = 0, 0
		if na != nb {
			return nil, fmt.Errorf("compare targets: source %q differs beyond target class", sa.ID)
		}
		if sa.TargetClass != sb.TargetClass {
			diffs = append(diffs, TargetDiff{ID: sa.ID, A: sa.TargetClass, B: sb.TargetClass})
		}
	}
	return diffs, nil
}

// sourceIndexByID resolves a source id to its position in the registration
// order. An unknown id is a configuration error.
func sourceIndexByID(sources []DataSource, id string) (int, error) {
	for i, src := range sources {
		if src.ID == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown data source id %q", id)
}
