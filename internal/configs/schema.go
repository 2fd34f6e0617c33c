package configs

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	CategorySMTP     Category = "smtp"
	CategoryDatabase Category = "database"
	CategoryServer   Category = "server"
	CategoryStorage  Category = "storage"
)

// FieldSpec describes one field of a category schema. Rules holds
// go-playground/validator tags applied to the scalar payload.
type FieldSpec struct {
	Kind        ValueKind
	Required    bool
	Rules       string
	DisplayName string
}

// CrossFieldCheck validates relationships between fields of one submission.
type CrossFieldCheck func(fields Fields) []string

// Schema describes the fields a category accepts. Open schemas accept any field
// name holding any scalar kind.
type Schema struct {
	Fields map[string]FieldSpec
	Open   bool
	Checks []CrossFieldCheck
}

// DisplayName returns the human label of a field.
func (s Schema) DisplayName(field string) string {
	if spec, ok := s.Fields[field]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return field
}

// Registry holds the known categories and their schemas.
type Registry struct {
	schemas  map[Category]Schema
	validate *validator.Validate
}

// NewRegistry returns the built-in categories plus the extra open categories.
func NewRegistry(extraCategories []string) (*Registry, error) {
	registry := &Registry{
		schemas:  builtinSchemas(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, raw := range extraCategories {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		category, err := NewCategory(raw)
		if err != nil {
			return nil, err
		}
		if _, exists := registry.schemas[category]; exists {
			continue
		}
		registry.schemas[category] = Schema{Open: true}
	}
	return registry, nil
}

// Lookup returns the schema for a registered category.
func (r *Registry) Lookup(category Category) (Schema, bool) {
	schema, ok := r.schemas[category]
	return schema, ok
}

// Resolve parses a raw category name and checks that it is registered.
func (r *Registry) Resolve(raw string) (Category, error) {
	category, err := NewCategory(raw)
	if err != nil {
		return "", err
	}
	if _, ok := r.schemas[category]; !ok {
		return "", fmt.Errorf("%w: category %q", ErrNotFound, category)
	}
	return category, nil
}

// Categories lists the registered categories in lexical order.
func (r *Registry) Categories() []Category {
	categories := make([]Category, 0, len(r.schemas))
	for category := range r.schemas {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
	return categories
}

// Validate checks a full submission for a category against its schema.
func (r *Registry) Validate(category Category, fields Fields) error {
	schema, ok := r.schemas[category]
	if !ok {
		return fmt.Errorf("%w: category %q", ErrNotFound, category)
	}

	var problems []string
	for _, name := range fields.Names() {
		value := fields[name]
		spec, known := schema.Fields[name]
		if !known {
			if !schema.Open {
				problems = append(problems, fmt.Sprintf("%s is not a known field", name))
			}
			continue
		}
		if value.Kind() != spec.Kind {
			problems = append(problems, fmt.Sprintf("%s must be %s, got %s", name, spec.Kind, value.Kind()))
			continue
		}
		if spec.Rules == "" {
			continue
		}
		if err := r.validate.Var(value.Interface(), spec.Rules); err != nil {
			problems = append(problems, describeRuleFailure(name, err))
		}
	}

	requiredNames := make([]string, 0, len(schema.Fields))
	for name, spec := range schema.Fields {
		if spec.Required {
			requiredNames = append(requiredNames, name)
		}
	}
	sort.Strings(requiredNames)
	for _, name := range requiredNames {
		if _, present := fields[name]; !present {
			problems = append(problems, fmt.Sprintf("%s is required", name))
		}
	}

	for _, check := range schema.Checks {
		problems = append(problems, check(fields)...)
	}

	if len(problems) > 0 {
		return validationError("%s", strings.Join(problems, "; "))
	}
	return nil
}

func describeRuleFailure(field string, err error) string {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Sprintf("%s is invalid", field)
	}
	fieldError := fieldErrors[0]
	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_rfc1123":
		return fmt.Sprintf("%s must be a valid hostname", field)
	default:
		return fmt.Sprintf("%s failed on tag %s", field, fieldError.Tag())
	}
}

func builtinSchemas() map[Category]Schema {
	return map[Category]Schema{
		CategorySMTP: {
			Fields: map[string]FieldSpec{
				"enabled":      {Kind: KindBoolean, Required: true, DisplayName: "Enabled"},
				"host":         {Kind: KindString, Rules: "omitempty,hostname_rfc1123", DisplayName: "Server address"},
				"port":         {Kind: KindInteger, Rules: "min=1,max=65535", DisplayName: "Port"},
				"username":     {Kind: KindString, Rules: "omitempty,email", DisplayName: "Username"},
				"password":     {Kind: KindString, DisplayName: "Password"},
				"from_address": {Kind: KindString, Rules: "omitempty,email", DisplayName: "Sender address"},
				"from_name":    {Kind: KindString, Rules: "max=128", DisplayName: "Sender name"},
				"use_tls":      {Kind: KindBoolean, DisplayName: "TLS"},
			},
			Checks: []CrossFieldCheck{requireWhenEnabled("enabled", "host", "username", "password", "from_address")},
		},
		CategoryDatabase: {
			Fields: map[string]FieldSpec{
				"url":             {Kind: KindString, Required: true, Rules: "required", DisplayName: "Connection URL"},
				"max_connections": {Kind: KindInteger, Required: true, Rules: "min=1,max=100", DisplayName: "Max connections"},
				"connect_timeout": {Kind: KindInteger, Required: true, Rules: "min=5,max=300", DisplayName: "Connect timeout"},
			},
		},
		CategoryServer: {
			Fields: map[string]FieldSpec{
				"host":                         {Kind: KindString, Required: true, Rules: "required,max=255", DisplayName: "Bind address"},
				"port":                         {Kind: KindInteger, Required: true, Rules: "min=1024,max=65535", DisplayName: "Port"},
				"jwt_secret":                   {Kind: KindString, Required: true, Rules: "min=32", DisplayName: "JWT secret"},
				"jwt_access_token_expires_in":  {Kind: KindInteger, Required: true, Rules: "min=300,max=86400", DisplayName: "Access token expiry"},
				"jwt_refresh_token_expires_in": {Kind: KindInteger, Rules: "min=300", DisplayName: "Refresh token expiry"},
				"cors_origins":                 {Kind: KindString, DisplayName: "CORS origins"},
			},
		},
		CategoryStorage: {
			Fields: map[string]FieldSpec{
				"upload_path":   {Kind: KindString, Required: true, Rules: "required", DisplayName: "Upload path"},
				"max_file_size": {Kind: KindInteger, Required: true, Rules: "min=1,max=1000", DisplayName: "Max file size"},
				"use_cdn":       {Kind: KindBoolean, DisplayName: "CDN enabled"},
				"cdn_base_url":  {Kind: KindString, Rules: "omitempty,url", DisplayName: "CDN base URL"},
			},
			Checks: []CrossFieldCheck{requireWhenEnabled("use_cdn", "cdn_base_url")},
		},
	}
}

// requireWhenEnabled demands non-empty dependents while the toggle field is true.
func requireWhenEnabled(toggle string, dependents ...string) CrossFieldCheck {
	return func(fields Fields) []string {
		value, ok := fields[toggle]
		if !ok || value.Kind() != KindBoolean || !value.Bool() {
			return nil
		}
		var problems []string
		for _, name := range dependents {
			dependent, present := fields[name]
			if !present || dependent.IsZero() {
				problems = append(problems, fmt.Sprintf("%s is required when %s is true", name, toggle))
			}
		}
		return problems
	}
}
