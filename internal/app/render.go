package app

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/docker/docker/api/types/container"
	"gopkg.in/yaml.v3"

	"github.com/rekcod/rekcod/internal/envstore"
	"github.com/rekcod/rekcod/internal/node"
)

// Renderer executes bundle templates. The template data exposes three
// roots: .Value (the request's YAML values), .Env (the fleet environment
// document) and .Docker (live engine lookups across the fleet).
type Renderer struct {
	env   *envstore.Store
	nodes *node.Manager
}

func NewRenderer(env *envstore.Store, nodes *node.Manager) *Renderer {
	return &Renderer{env: env, nodes: nodes}
}

type renderData struct {
	Value  map[string]any
	Env    map[string]string
	Docker *dockerHelper
}

// dockerHelper backs the .Docker template root.
type dockerHelper struct {
	ctx   context.Context
	nodes *node.Manager
}

// PsInspectResult pairs an inspect hit with the node that answered it.
type PsInspectResult struct {
	Data *container.InspectResponse
	Node string
}

// PsInspect looks a container up by id or name across every online node
// and returns the first inspect hit, nil when no node knows it. A miss is
// not an error so templates can branch on it.
func (d *dockerHelper) PsInspect(id string) (*PsInspectResult, error) {
	states, err := d.nodes.GetAllNodes(d.ctx, false)
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Node.Name < states[j].Node.Name })

	for _, st := range states {
		if resp, err := st.Engine.InspectContainer(d.ctx, id); err == nil {
			return &PsInspectResult{Data: resp, Node: st.Node.Name}, nil
		}
	}
	return nil, nil
}

// funcs are the extra template functions. default substitutes for empty or
// missing values, pipe style: {{ .Value.port | default "8080" }}.
var funcs = template.FuncMap{
	"default": func(def any, vals ...any) any {
		if len(vals) == 0 {
			return def
		}
		v := vals[0]
		if v == nil || v == "" {
			return def
		}
		return v
	},
}

// Render executes one template body against valuesYAML.
func (r *Renderer) Render(ctx context.Context, body, valuesYAML string) (string, error) {
	values := map[string]any{}
	if strings.TrimSpace(valuesYAML) != "" {
		if err := yaml.Unmarshal([]byte(valuesYAML), &values); err != nil {
			return "", fmt.Errorf("parsing values: %w", err)
		}
	}
	envVars, err := r.env.GetAll(ctx)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New("tmpl").Funcs(funcs).Parse(body)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	data := renderData{
		Value:  values,
		Env:    envVars,
		Docker: &dockerHelper{ctx: ctx, nodes: r.nodes},
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}

// RenderBundle renders every template of the bundle into a file name to
// rendered text map.
func (r *Renderer) RenderBundle(ctx context.Context, b *Bundle, valuesYAML string) (map[string]string, error) {
	if len(b.Tmpls) == 0 {
		return nil, fmt.Errorf("bundle %s has no templates", b.Manifest.Name)
	}

	out := make(map[string]string, len(b.Tmpls))
	for _, name := range b.Tmpls {
		body, err := b.ReadTemplate(name)
		if err != nil {
			return nil, err
		}
		text, err := r.Render(ctx, body, valuesYAML)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		out[name] = text
	}
	return out, nil
}
