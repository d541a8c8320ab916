package audiostream

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Link connects an output port of one stage to an input port of another.
type Link struct {
	From     StageID
	FromPort string
	To       StageID
	ToPort   string
}

func (l Link) String() string {
	return fmt.Sprintf("%s:%s -> %s:%s", l.From, l.FromPort, l.To, l.ToPort)
}

type stagePair struct {
	from, to StageID
}

// Graph is a declarative pipeline topology.
//
// Building a graph is pure data assembly: AddStage and Link only record
// intent, Validate checks it. No runtime resource is touched, so topologies
// can be checked without media devices.
type Graph struct {
	stages  map[StageID]*Stage
	order   []StageID
	links   []Link
	convert map[stagePair]bool

	// negotiated formats per link, filled by Validate
	formats map[Link]MediaFormat
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		stages:  make(map[StageID]*Stage),
		convert: make(map[stagePair]bool),
	}
}

// AddStage adds a stage. Stage ids must be unique.
func (g *Graph) AddStage(s *Stage) error {
	if s == nil {
		return fmt.Errorf("audio-stream: nil stage")
	}
	if _, exists := g.stages[s.ID]; exists {
		return &GraphError{Kind: DuplicateStage, Stage: s.ID}
	}
	g.stages[s.ID] = s
	g.order = append(g.order, s.ID)
	g.formats = nil
	return nil
}

// Link connects from:fromPort to to:toPort.
//
// Returns a *GraphError if a stage or port is unknown or a port is already
// linked. Cycles are only detected by Validate.
func (g *Graph) Link(from StageID, fromPort string, to StageID, toPort string) error {
	src, ok := g.stages[from]
	if !ok {
		return &GraphError{Kind: UnknownStage, Stage: from}
	}
	dst, ok := g.stages[to]
	if !ok {
		return &GraphError{Kind: UnknownStage, Stage: to}
	}
	if !src.hasOutput(fromPort) {
		return &GraphError{Kind: UnknownPort, Stage: from, Port: fromPort}
	}
	if !dst.hasInput(toPort) {
		return &GraphError{Kind: UnknownPort, Stage: to, Port: toPort}
	}
	for _, l := range g.links {
		if l.From == from && l.FromPort == fromPort {
			return &GraphError{Kind: PortInUse, Stage: from, Port: fromPort}
		}
		if l.To == to && l.ToPort == toPort {
			return &GraphError{Kind: PortInUse, Stage: to, Port: toPort}
		}
	}

	g.links = append(g.links, Link{From: from, FromPort: fromPort, To: to, ToPort: toPort})
	g.formats = nil
	return nil
}

// Chain links each stage's "src" port to the next stage's "sink" port.
func (g *Graph) Chain(ids ...StageID) error {
	for i := 0; i+1 < len(ids); i++ {
		if err := g.Link(ids[i], PortSrc, ids[i+1], PortSink); err != nil {
			return err
		}
	}
	return nil
}

// AllowConversion declares an implicit converter between two adjacent
// stages. The runtime inserts the converter; Validate then accepts any raw
// format mismatch on that pair.
func (g *Graph) AllowConversion(from, to StageID) {
	g.convert[stagePair{from, to}] = true
	g.formats = nil
}

// ConversionAllowed reports whether l carries an implicit converter.
func (g *Graph) ConversionAllowed(l Link) bool {
	return g.convert[stagePair{l.From, l.To}]
}

// Stage returns the stage with the given id.
func (g *Graph) Stage(id StageID) (*Stage, bool) {
	s, ok := g.stages[id]
	return s, ok
}

// Stages returns the stages in insertion order.
func (g *Graph) Stages() []*Stage {
	out := make([]*Stage, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.stages[id])
	}
	return out
}

// Links returns all links in insertion order.
func (g *Graph) Links() []Link {
	return append([]Link(nil), g.links...)
}

// Inbound returns the links ending at id.
func (g *Graph) Inbound(id StageID) []Link {
	var out []Link
	for _, l := range g.links {
		if l.To == id {
			out = append(out, l)
		}
	}
	return out
}

// Outbound returns the links leaving id, ordered by port name.
func (g *Graph) Outbound(id StageID) []Link {
	var out []Link
	for _, l := range g.links {
		if l.From == id {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FromPort < out[j].FromPort })
	return out
}

// Format returns the format negotiated on l by the last successful Validate.
func (g *Graph) Format(l Link) (MediaFormat, bool) {
	f, ok := g.formats[l]
	return f, ok
}

// Order returns the stages in topological order (sources first).
//
// Returns a *GraphError of kind Cycle if the links contain a cycle.
func (g *Graph) Order() ([]*Stage, error) {
	indegree := make(map[StageID]int, len(g.stages))
	for _, id := range g.order {
		indegree[id] = 0
	}
	for _, l := range g.links {
		indegree[l.To]++
	}

	// Kahn's algorithm; insertion order keeps the result deterministic
	var queue []StageID
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := make([]*Stage, 0, len(g.stages))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered = append(ordered, g.stages[id])
		for _, l := range g.Outbound(id) {
			indegree[l.To]--
			if indegree[l.To] == 0 {
				queue = append(queue, l.To)
			}
		}
	}

	if len(ordered) != len(g.stages) {
		for _, id := range g.order {
			if indegree[id] > 0 {
				return nil, &GraphError{Kind: Cycle, Stage: id, Detail: "stage is part of a link cycle"}
			}
		}
	}
	return ordered, nil
}

// Validate checks the topology:
//  1. The links are acyclic (Cycle)
//  2. Every declared port carries a link (DanglingPort)
//  3. Formats propagate from the sources without conflict (FormatMismatch),
//     except on pairs declared with AllowConversion
//
// On success the negotiated format of every link is available via Format.
func (g *Graph) Validate() error {
	g.formats = nil

	if len(g.stages) == 0 {
		return &GraphError{Kind: DanglingPort, Detail: "graph has no stages"}
	}

	ordered, err := g.Order()
	if err != nil {
		return err
	}

	for _, s := range ordered {
		for _, port := range s.inputs {
			if !g.hasLinkTo(s.ID, port) {
				return &GraphError{Kind: DanglingPort, Stage: s.ID, Port: port, Detail: "input port has no link"}
			}
		}
		for _, port := range s.outputs {
			if !g.hasLinkFrom(s.ID, port) {
				return &GraphError{Kind: DanglingPort, Stage: s.ID, Port: port, Detail: "output port has no link"}
			}
		}
	}

	formats := make(map[Link]MediaFormat, len(g.links))
	for _, s := range ordered {
		in := AnyFormat
		if !s.Kind().IsSource() {
			// every non-source stage declares exactly one input port
			l := g.Inbound(s.ID)[0]
			upstream := formats[l]
			accepts := s.Config().Accepts()

			// a converter rewrites the raw layout but keeps the rate
			converted := MediaFormat{Encoding: upstream.Encoding, Rate: upstream.Rate}

			switch {
			case upstream.Compatible(accepts):
				in = accepts.Intersect(upstream)
			case g.ConversionAllowed(l) && upstream.Encoding == EncodingRaw && converted.Compatible(accepts):
				in = accepts.Intersect(converted)
			default:
				return &GraphError{
					Kind:   FormatMismatch,
					Stage:  s.ID,
					Port:   l.ToPort,
					Detail: fmt.Sprintf("%s produces %s, %s accepts %s", l.From, upstream, s.ID, accepts),
				}
			}
			formats[l] = in
		}

		out := s.Config().Produces(in)
		for _, l := range g.Outbound(s.ID) {
			formats[l] = out
		}
	}

	g.formats = formats
	return nil
}

func (g *Graph) hasLinkTo(id StageID, port string) bool {
	for _, l := range g.links {
		if l.To == id && l.ToPort == port {
			return true
		}
	}
	return false
}

func (g *Graph) hasLinkFrom(id StageID, port string) bool {
	for _, l := range g.links {
		if l.From == id && l.FromPort == port {
			return true
		}
	}
	return false
}

type stageDescription struct {
	ID         StageID        `yaml:"id"`
	Kind       StageKind      `yaml:"kind"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

type linkDescription struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Format    string `yaml:"format,omitempty"`
	Converted bool   `yaml:"converted,omitempty"`
}

type graphDescription struct {
	Stages []stageDescription `yaml:"stages"`
	Links  []linkDescription  `yaml:"links"`
}

// Describe renders the topology as YAML. Negotiated formats are included
// when the graph has been validated.
func (g *Graph) Describe() ([]byte, error) {
	desc := graphDescription{}
	for _, s := range g.Stages() {
		desc.Stages = append(desc.Stages, stageDescription{
			ID:         s.ID,
			Kind:       s.Kind(),
			Properties: s.Config().Properties(),
		})
	}
	for _, l := range g.links {
		ld := linkDescription{
			From:      fmt.Sprintf("%s:%s", l.From, l.FromPort),
			To:        fmt.Sprintf("%s:%s", l.To, l.ToPort),
			Converted: g.ConversionAllowed(l),
		}
		if f, ok := g.formats[l]; ok {
			ld.Format = f.String()
		}
		desc.Links = append(desc.Links, ld)
	}

	out, err := yaml.Marshal(desc)
	if err != nil {
		return nil, fmt.Errorf("audio-stream: describe graph: %w", err)
	}
	return out, nil
}
