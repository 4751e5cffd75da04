package pluginmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DescriptorFile is the required descriptor at the root of every package.
const DescriptorFile = "plugin.cue"

// descriptorSchema constrains what a plugin.cue must declare. Unknown
// fields are tolerated; settings values must be strings. The type field is
// schema-level just a string so an unrecognized type surfaces as
// UnsupportedType from the Go check, not as a schema violation.
const descriptorSchema = `
#Plugin: {
	id:      string & =~"^[a-z0-9][a-z0-9_-]*$"
	name:    string & !=""
	version: string & =~"^[0-9]+\\.[0-9]+\\.[0-9]+"
	type:    string & !=""
	main:    string & !=""

	description?: string
	author?:      string
	website?:     string
	settings?: [string]: string
	...
}

plugin: #Plugin
`

var pluginIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// DescriptorParser parses and validates plugin.cue files.
type DescriptorParser struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewDescriptorParser compiles the descriptor schema once.
func NewDescriptorParser() *DescriptorParser {
	ctx := cuecontext.New()
	return &DescriptorParser{
		ctx:    ctx,
		schema: ctx.CompileString(descriptorSchema),
	}
}

// ParseDir reads and validates the descriptor in an unpacked package
// directory.
func (p *DescriptorParser) ParseDir(dir string) (*Descriptor, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, lifecycleErr(KindMalformedPackage, "", fmt.Errorf("reading %s: %w", DescriptorFile, err))
	}
	return p.Parse(data)
}

// Parse validates descriptor bytes against the schema and decodes them.
func (p *DescriptorParser) Parse(data []byte) (*Descriptor, error) {
	value := p.ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return nil, lifecycleErr(KindMalformedPackage, "", fmt.Errorf("compiling %s: %w", DescriptorFile, err))
	}

	unified := p.schema.Unify(value)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, lifecycleErr(KindSchemaViolation, "", err)
	}

	pluginValue := unified.LookupPath(cue.ParsePath("plugin"))
	if !pluginValue.Exists() {
		return nil, lifecycleErr(KindSchemaViolation, "", fmt.Errorf("%s has no plugin declaration", DescriptorFile))
	}
	if err := pluginValue.Validate(cue.Concrete(true)); err != nil {
		return nil, lifecycleErr(KindSchemaViolation, "", err)
	}

	var desc Descriptor
	if err := pluginValue.Decode(&desc); err != nil {
		return nil, lifecycleErr(KindSchemaViolation, "", fmt.Errorf("decoding descriptor: %w", err))
	}

	// Decode is permissive about the patterns, re-check the identity field.
	if !pluginIDPattern.MatchString(desc.ID) {
		return nil, lifecycleErr(KindSchemaViolation, desc.ID, fmt.Errorf("invalid plugin id %q", desc.ID))
	}
	if desc.Type != "component" && desc.Type != "theme" && desc.Type != "datasource" {
		return nil, lifecycleErr(KindUnsupportedType, desc.ID, fmt.Errorf("plugin type %q is not supported", desc.Type))
	}
	return &desc, nil
}
