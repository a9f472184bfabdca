// Package openapi builds an OpenAPI 3 document from Go request and response
// types and serves it as JSON or YAML.
package openapi

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"
)

type Document struct {
	mu      sync.RWMutex
	spec    *openapi3.T
	schemas map[reflect.Type]string
}

func New(title, version string) *Document {
	return &Document{
		spec: &openapi3.T{
			OpenAPI:    "3.0.3",
			Info:       &openapi3.Info{Title: title, Version: version},
			Paths:      openapi3.NewPaths(),
			Components: &openapi3.Components{SecuritySchemes: make(openapi3.SecuritySchemes)},
		},
		schemas: make(map[reflect.Type]string),
	}
}

func (d *Document) Description(desc string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Info.Description = desc
	return d
}

func (d *Document) Tag(name, description string) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Tags = append(d.spec.Tags, &openapi3.Tag{Name: name, Description: description})
	return d
}

func (d *Document) BearerAuth(name, description string) *Document {
	return d.securityScheme(name, &openapi3.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
		Description:  description,
	})
}

func (d *Document) CookieAuth(name, cookieName, description string) *Document {
	return d.securityScheme(name, &openapi3.SecurityScheme{
		Type:        "apiKey",
		Name:        cookieName,
		In:          "cookie",
		Description: description,
	})
}

// AuthorizationCode describes a PKCE authorization code grant served by this
// API.
func (d *Document) AuthorizationCode(name, authorizeURL, tokenURL, refreshURL string) *Document {
	return d.securityScheme(name, &openapi3.SecurityScheme{
		Type: "oauth2",
		Flows: &openapi3.OAuthFlows{
			AuthorizationCode: &openapi3.OAuthFlow{
				AuthorizationURL: authorizeURL,
				TokenURL:         tokenURL,
				RefreshURL:       refreshURL,
				Scopes:           map[string]string{},
			},
		},
	})
}

func (d *Document) securityScheme(name string, scheme *openapi3.SecurityScheme) *Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spec.Components.SecuritySchemes[name] = &openapi3.SecuritySchemeRef{Value: scheme}
	return d
}

func (d *Document) Spec() *openapi3.T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spec
}

func (d *Document) Validate(ctx context.Context) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.spec.Validate(ctx)
}

func (d *Document) JSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return json.MarshalIndent(d.spec, "", "  ")
}

func (d *Document) YAML() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	intermediate, err := d.spec.MarshalYAML()
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(intermediate)
}

func (d *Document) JSONHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := d.JSON()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
		}
		return c.JSONBlob(http.StatusOK, data)
	}
}

func (d *Document) YAMLHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := d.YAML()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
		}
		return c.Blob(http.StatusOK, "application/yaml", data)
	}
}

func (d *Document) addOperation(method, path string, op *openapi3.Operation) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path = echoPathToOpenAPI(path)
	item := d.spec.Paths.Find(path)
	if item == nil {
		item = &openapi3.PathItem{}
		d.spec.Paths.Set(path, item)
	}
	item.SetOperation(strings.ToUpper(method), op)
}

func echoPathToOpenAPI(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if strings.HasPrefix(part, ":") {
			parts[i] = "{" + strings.TrimPrefix(part, ":") + "}"
		}
	}
	return strings.Join(parts, "/")
}

// schemaFor registers named struct types as components and references them.
// Callers must hold d.mu.
func (d *Document) schemaFor(t reflect.Type) *openapi3.SchemaRef {
	if t.Kind() == reflect.Pointer {
		ref := d.schemaFor(t.Elem())
		if ref.Ref == "" && ref.Value != nil {
			ref.Value.Nullable = true
		}
		return ref
	}

	switch t.Kind() {
	case reflect.String:
		return scalar("string")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return scalar("integer")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		ref := scalar("integer")
		zero := 0.0
		ref.Value.Min = &zero
		return ref
	case reflect.Float32, reflect.Float64:
		return scalar("number")
	case reflect.Bool:
		return scalar("boolean")
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: d.schemaFor(t.Elem()),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: d.schemaFor(t.Elem())},
		}}
	case reflect.Struct:
		return d.structRef(t)
	default:
		return scalar("object")
	}
}

func (d *Document) structRef(t reflect.Type) *openapi3.SchemaRef {
	if t.PkgPath() == "time" && t.Name() == "Time" {
		ref := scalar("string")
		ref.Value.Format = "date-time"
		return ref
	}
	if t.Name() == "" {
		return &openapi3.SchemaRef{Value: d.structSchema(t)}
	}

	name, ok := d.schemas[t]
	if !ok {
		name = d.uniqueName(t)
		d.schemas[t] = name
		if d.spec.Components.Schemas == nil {
			d.spec.Components.Schemas = make(openapi3.Schemas)
		}
		// Register before building so recursive types terminate.
		schema := &openapi3.Schema{}
		d.spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: schema}
		*schema = *d.structSchema(t)
	}
	return openapi3.NewSchemaRef("#/components/schemas/"+name, d.spec.Components.Schemas[name].Value)
}

func (d *Document) uniqueName(t reflect.Type) string {
	base := t.Name()
	if base != "" {
		base = strings.ToUpper(base[:1]) + base[1:]
	}
	if pkg := t.PkgPath(); pkg != "" {
		if i := strings.LastIndex(pkg, "/"); i >= 0 {
			pkg = pkg[i+1:]
		}
		if _, taken := d.spec.Components.Schemas[base]; taken {
			base = strings.ToUpper(pkg[:1]) + pkg[1:] + base
		}
	}
	return base
}

func (d *Document) structSchema(t reflect.Type) *openapi3.Schema {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}

		name, opts, _ := strings.Cut(tag, ",")
		if field.Anonymous && name == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded := d.structSchema(ft)
				for prop, ref := range embedded.Properties {
					schema.Properties[prop] = ref
				}
				schema.Required = append(schema.Required, embedded.Required...)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}

		ref := d.schemaFor(field.Type)
		if doc := field.Tag.Get("doc"); doc != "" && ref.Ref == "" && ref.Value != nil {
			ref.Value.Description = doc
		}
		schema.Properties[name] = ref

		if !strings.Contains(opts, "omitempty") {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func scalar(kind string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{kind}}}
}
