package openapi

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

type RouteBuilder struct {
	doc       *Document
	method    string
	path      string
	operation *openapi3.Operation
}

// Route starts documenting one operation. Path parameters in echo syntax are
// declared automatically.
func (d *Document) Route(method, path string) *RouteBuilder {
	rb := &RouteBuilder{
		doc:       d,
		method:    method,
		path:      path,
		operation: &openapi3.Operation{Responses: openapi3.NewResponses()},
	}
	for _, part := range strings.Split(path, "/") {
		if name, ok := strings.CutPrefix(part, ":"); ok {
			rb.param(name, "path", "").Required = true
		}
	}
	return rb
}

func (rb *RouteBuilder) Summary(summary string) *RouteBuilder {
	rb.operation.Summary = summary
	return rb
}

func (rb *RouteBuilder) Description(description string) *RouteBuilder {
	rb.operation.Description = description
	return rb
}

func (rb *RouteBuilder) Tags(tags ...string) *RouteBuilder {
	rb.operation.Tags = append(rb.operation.Tags, tags...)
	return rb
}

func (rb *RouteBuilder) QueryParam(name, description string, required bool) *RouteBuilder {
	rb.param(name, "query", description).Required = required
	return rb
}

func (rb *RouteBuilder) HeaderParam(name, description string) *RouteBuilder {
	rb.param(name, "header", description)
	return rb
}

func (rb *RouteBuilder) CookieParam(name, description string) *RouteBuilder {
	rb.param(name, "cookie", description)
	return rb
}

func (rb *RouteBuilder) param(name, in, description string) *openapi3.Parameter {
	for _, p := range rb.operation.Parameters {
		if p.Value.Name == name && p.Value.In == in {
			if description != "" {
				p.Value.Description = description
			}
			return p.Value
		}
	}
	p := &openapi3.Parameter{Name: name, In: in, Description: description, Schema: scalar("string")}
	rb.operation.Parameters = append(rb.operation.Parameters, &openapi3.ParameterRef{Value: p})
	return p
}

func (rb *RouteBuilder) Body(example any, description string) *RouteBuilder {
	return rb.body("application/json", example, description)
}

// FormBody documents an application/x-www-form-urlencoded body. Field names
// come from the form tag.
func (rb *RouteBuilder) FormBody(example any, description string) *RouteBuilder {
	schema := &openapi3.Schema{Type: &openapi3.Types{"object"}, Properties: make(openapi3.Schemas)}
	t := reflect.TypeOf(example)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("form"), ",")
		if name == "" || name == "-" {
			continue
		}
		schema.Properties[name] = scalar("string")
		if field.Tag.Get("required") == "true" {
			schema.Required = append(schema.Required, name)
		}
	}
	rb.operation.RequestBody = &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Description: description,
		Required:    true,
		Content: openapi3.Content{
			"application/x-www-form-urlencoded": &openapi3.MediaType{Schema: &openapi3.SchemaRef{Value: schema}},
		},
	}}
	return rb
}

func (rb *RouteBuilder) body(contentType string, example any, description string) *RouteBuilder {
	rb.doc.mu.Lock()
	ref := rb.doc.schemaFor(reflect.TypeOf(example))
	rb.doc.mu.Unlock()

	rb.operation.RequestBody = &openapi3.RequestBodyRef{Value: &openapi3.RequestBody{
		Description: description,
		Required:    true,
		Content:     openapi3.Content{contentType: &openapi3.MediaType{Schema: ref}},
	}}
	return rb
}

// Response documents a status. A nil example documents a response without a
// body.
func (rb *RouteBuilder) Response(status int, example any, description string) *RouteBuilder {
	resp := &openapi3.Response{Description: &description}
	if example != nil {
		rb.doc.mu.Lock()
		ref := rb.doc.schemaFor(reflect.TypeOf(example))
		rb.doc.mu.Unlock()
		resp.Content = openapi3.Content{"application/json": &openapi3.MediaType{Schema: ref}}
	}
	rb.operation.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: resp})
	return rb
}

func (rb *RouteBuilder) Redirect(description string) *RouteBuilder {
	resp := &openapi3.Response{
		Description: &description,
		Headers: openapi3.Headers{
			"Location": &openapi3.HeaderRef{Value: &openapi3.Header{Parameter: openapi3.Parameter{Schema: scalar("string")}}},
		},
	}
	rb.operation.Responses.Set("302", &openapi3.ResponseRef{Value: resp})
	return rb
}

// Security adds alternative requirements; any one of the schemes satisfies
// the operation.
func (rb *RouteBuilder) Security(schemes ...string) *RouteBuilder {
	if rb.operation.Security == nil {
		rb.operation.Security = &openapi3.SecurityRequirements{}
	}
	for _, scheme := range schemes {
		*rb.operation.Security = append(*rb.operation.Security, openapi3.SecurityRequirement{scheme: []string{}})
	}
	return rb
}

func (rb *RouteBuilder) Build() {
	rb.doc.addOperation(rb.method, rb.path, rb.operation)
}
