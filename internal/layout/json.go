package layout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/elektrokombinacija/rmfs-mapf/internal/core"
)

const schemaURL = "https://rmfs-mapf.dev/schemas/layout.json"

// layoutSchemaJSON describes the on-disk layout format.
const layoutSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://rmfs-mapf.dev/schemas/layout.json",
  "type": "object",
  "required": ["waypoints", "edges"],
  "properties": {
    "name": { "type": "string" },
    "wrong_tier_penalty": { "type": "number", "minimum": 0 },
    "params": { "type": "object" },
    "waypoints": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/waypoint" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "pods": { "$ref": "#/$defs/ids" },
    "blocked": { "$ref": "#/$defs/ids" }
  },
  "additionalProperties": false,
  "$defs": {
    "ids": {
      "type": "array",
      "items": { "type": "integer", "minimum": 0 }
    },
    "waypoint": {
      "type": "object",
      "required": ["id", "x", "y"],
      "properties": {
        "id": { "type": "integer", "minimum": 0 },
        "x": { "type": "number" },
        "y": { "type": "number" },
        "tier": { "type": "integer", "minimum": 0 },
        "pod_storage": { "type": "boolean" },
        "queue_position": { "type": "boolean" },
        "station": { "type": "boolean" },
        "elevator": { "type": "boolean" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["from", "to", "distance"],
      "properties": {
        "from": { "type": "integer", "minimum": 0 },
        "to": { "type": "integer", "minimum": 0 },
        "distance": { "type": "number", "exclusiveMinimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(layoutSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal layout schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add layout schema resource: %w", err)
	}
	return c.Compile(schemaURL)
})

// File is the JSON form of a Layout.
type File struct {
	Name             string         `json:"name,omitempty"`
	WrongTierPenalty float64        `json:"wrong_tier_penalty"`
	Params           *Params        `json:"params,omitempty"`
	Waypoints        []WaypointJSON `json:"waypoints"`
	Edges            []EdgeJSON     `json:"edges"`
	Pods             []int          `json:"pods,omitempty"`
	Blocked          []int          `json:"blocked,omitempty"`
}

// WaypointJSON is one way-point of a File.
type WaypointJSON struct {
	ID            int     `json:"id"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Tier          int     `json:"tier,omitempty"`
	PodStorage    bool    `json:"pod_storage,omitempty"`
	QueuePosition bool    `json:"queue_position,omitempty"`
	Station       bool    `json:"station,omitempty"`
	Elevator      bool    `json:"elevator,omitempty"`
}

// EdgeJSON is one directed edge of a File.
type EdgeJSON struct {
	From     int     `json:"from"`
	To       int     `json:"to"`
	Distance float64 `json:"distance"`
}

// ToFile converts l into its JSON form. Way-points and edges are listed in
// ascending ID order, edges of one way-point in adjacency order.
func ToFile(l *Layout) File {
	g := l.Graph
	f := File{Name: l.Name, WrongTierPenalty: g.WrongTierPenalty, Params: l.Params}
	for _, id := range g.IDs() {
		w := g.Waypoints[id]
		f.Waypoints = append(f.Waypoints, WaypointJSON{
			ID:            int(id),
			X:             w.Pos.X,
			Y:             w.Pos.Y,
			Tier:          w.Tier,
			PodStorage:    w.PodStorage,
			QueuePosition: w.QueuePosition,
			Station:       w.Station,
			Elevator:      w.Elevator,
		})
		for _, e := range g.Edges[id] {
			f.Edges = append(f.Edges, EdgeJSON{From: int(e.From), To: int(e.To), Distance: e.Distance})
		}
	}
	if l.Pods != nil {
		f.Pods = sortedIDs(l.Pods.Pods)
		f.Blocked = sortedIDs(l.Pods.Blocked)
	}
	return f
}

func sortedIDs(set map[core.WaypointID]bool) []int {
	var out []int
	for id, ok := range set {
		if ok {
			out = append(out, int(id))
		}
	}
	sort.Ints(out)
	return out
}

// Encode writes l as indented JSON.
func Encode(w io.Writer, l *Layout) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ToFile(l)); err != nil {
		return fmt.Errorf("layout: encode %s: %w", l.Name, err)
	}
	return nil
}

// Decode reads a layout, validating it against the layout schema before
// building the graph.
func Decode(r io.Reader) (*Layout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("layout: read: %w", err)
	}

	sch, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("layout: parse: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("layout: decode: %w", err)
	}
	return FromFile(f)
}

// FromFile builds a Layout from its JSON form. A zero wrong-tier penalty is
// replaced by core.DefaultWrongTierPenalty.
func FromFile(f File) (*Layout, error) {
	l := &Layout{Name: f.Name, Params: f.Params, Graph: core.NewGraph(), Pods: core.NewPodMap()}
	if f.WrongTierPenalty > 0 {
		l.Graph.WrongTierPenalty = f.WrongTierPenalty
	}

	for _, w := range f.Waypoints {
		id := core.WaypointID(w.ID)
		if _, dup := l.Graph.Waypoints[id]; dup {
			return nil, fmt.Errorf("layout: duplicate way-point %d", w.ID)
		}
		l.Graph.AddWaypoint(&core.Waypoint{
			ID:            id,
			Pos:           core.Pos{X: w.X, Y: w.Y},
			Tier:          w.Tier,
			PodStorage:    w.PodStorage,
			QueuePosition: w.QueuePosition,
			Station:       w.Station,
			Elevator:      w.Elevator,
		})
	}
	for _, e := range f.Edges {
		if err := l.known(e.From, e.To); err != nil {
			return nil, fmt.Errorf("layout: edge %d->%d: %w", e.From, e.To, err)
		}
		l.Graph.AddEdge(core.WaypointID(e.From), core.WaypointID(e.To), e.Distance)
	}
	for _, id := range f.Pods {
		if err := l.known(id); err != nil {
			return nil, fmt.Errorf("layout: pod: %w", err)
		}
		l.Pods.Pods[core.WaypointID(id)] = true
	}
	for _, id := range f.Blocked {
		if err := l.known(id); err != nil {
			return nil, fmt.Errorf("layout: blocked: %w", err)
		}
		l.Pods.Blocked[core.WaypointID(id)] = true
	}

	for _, id := range l.Graph.IDs() {
		w := l.Graph.Waypoints[id]
		switch {
		case w.PodStorage:
			l.Storage = append(l.Storage, id)
		case w.Station:
			l.Stations = append(l.Stations, id)
		case w.QueuePosition:
			l.Queues = append(l.Queues, id)
		case w.Elevator:
			l.Elevators = append(l.Elevators, id)
		}
	}
	return l, nil
}

func (l *Layout) known(ids ...int) error {
	for _, id := range ids {
		if _, ok := l.Graph.Waypoints[core.WaypointID(id)]; !ok {
			return fmt.Errorf("unknown way-point %d", id)
		}
	}
	return nil
}

// Load reads a layout file.
func Load(path string) (*Layout, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	defer fh.Close()
	return Decode(fh)
}

// Save writes l to path.
func Save(path string, l *Layout) error {
	var buf bytes.Buffer
	if err := Encode(&buf, l); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	return nil
}
