// Package credential models the verifiable credentials the SDK consumes.
// Credentials arrive as JSON produced elsewhere; this package parses them,
// checks their shape, and exposes the fields identity derivation and
// circuit validation read. Issuing or cryptographically verifying
// credentials is out of scope.
package credential

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Credential is a W3C verifiable credential in its parsed JSON form.
type Credential map[string]interface{}

// Opt represents an option for credential parsing.
type Opt func(*parseOptions)

type parseOptions struct {
	validate bool
	schema   string
}

// WithDisableValidation disables structural schema validation.
func WithDisableValidation() Opt {
	return func(o *parseOptions) {
		o.validate = false
	}
}

// WithSchema validates against a custom JSON schema instead of the default
// structural one.
func WithSchema(schema string) Opt {
	return func(o *parseOptions) {
		o.schema = schema
	}
}

// Parse parses a JSON credential and validates its shape.
func Parse(data []byte, opts ...Opt) (Credential, error) {
	options := &parseOptions{
		validate: true,
		schema:   credentialSchema,
	}
	for _, opt := range opts {
		opt(options)
	}

	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}

	if options.validate {
		if err := validateShape(data, options.schema); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ToJSON serializes the credential.
func (c Credential) ToJSON() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal credential: %w", err)
	}
	return data, nil
}

// ID returns the credential identifier.
func (c Credential) ID() string {
	s, _ := c["id"].(string)
	return s
}

// Types returns the credential's type list. A bare string type is returned
// as a single-element list.
func (c Credential) Types() []string {
	switch v := c["type"].(type) {
	case string:
		return []string{v}
	case []interface{}:
		types := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				types = append(types, s)
			}
		}
		return types
	case []string:
		return v
	}
	return nil
}

// HasType reports whether the credential carries the given type,
// case-insensitively.
func (c Credential) HasType(t string) bool {
	for _, ct := range c.Types() {
		if strings.EqualFold(ct, t) {
			return true
		}
	}
	return false
}

// IssuerID returns the issuer identifier, whether the issuer is a bare
// string or an object with an id.
func (c Credential) IssuerID() string {
	switch v := c["issuer"].(type) {
	case string:
		return v
	case map[string]interface{}:
		s, _ := v["id"].(string)
		return s
	}
	return ""
}

// IssuanceDate returns the issuance date string as it appears in the
// credential.
func (c Credential) IssuanceDate() string {
	s, _ := c["issuanceDate"].(string)
	return s
}

// IssuedAt parses the issuance date as RFC 3339.
func (c Credential) IssuedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, c.IssuanceDate())
}

// Subject returns the credential subject object. A subject list yields its
// first entry.
func (c Credential) Subject() map[string]interface{} {
	switch v := c["credentialSubject"].(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		if len(v) > 0 {
			if m, ok := v[0].(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}

// SubjectID returns the subject identifier.
func (c Credential) SubjectID() string {
	if subj := c.Subject(); subj != nil {
		s, _ := subj["id"].(string)
		return s
	}
	return ""
}

// SubjectField returns a named subject field.
func (c Credential) SubjectField(name string) (interface{}, bool) {
	subj := c.Subject()
	if subj == nil {
		return nil, false
	}
	v, ok := subj[name]
	return v, ok
}

// SubjectString returns a subject field as a string, or "" when absent or
// not a string.
func (c Credential) SubjectString(name string) string {
	v, ok := c.SubjectField(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SubjectNumber returns a numeric subject field. Numbers serialized as
// strings are parsed.
func (c Credential) SubjectNumber(name string) (float64, bool) {
	v, ok := c.SubjectField(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Status returns the credentialStatus object, if any.
func (c Credential) Status() map[string]interface{} {
	m, _ := c["credentialStatus"].(map[string]interface{})
	return m
}

// Proof returns the proof object, if any. A proof list yields its first
// entry.
func (c Credential) Proof() map[string]interface{} {
	switch v := c["proof"].(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		if len(v) > 0 {
			if m, ok := v[0].(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}
