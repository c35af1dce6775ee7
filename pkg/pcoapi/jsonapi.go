package pcoapi

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Body is a request payload that writes itself as JSON.
type Body interface {
	Encode(e *jx.Encoder)
}

// Field is a single JSON:API attribute. A nil Value marks the attribute as
// absent; absent attributes are never written, not even as null.
type Field struct {
	Key   string
	Value any
}

// Attr builds a Field.
func Attr(key string, value any) Field { return Field{Key: key, Value: value} }

// Identifier is a JSON:API resource identifier object.
type Identifier struct {
	Type string
	ID   string
}

// Relationship links the envelope's resource to one resource (One) or a list
// of resources (Many).
type Relationship struct {
	Name string
	One  *Identifier
	Many []Identifier
}

// Envelope is the {"data": {...}} request body used for create, update and
// action endpoints.
type Envelope struct {
	// Type is omitted from the body when empty.
	Type          string
	Attributes    []Field
	Relationships []Relationship
}

// NewEnvelope keeps only the present fields, in the order given.
func NewEnvelope(typ string, fields ...Field) *Envelope {
	env := &Envelope{Type: typ, Attributes: make([]Field, 0, len(fields))}
	for _, f := range fields {
		if f.Value == nil {
			continue
		}
		env.Attributes = append(env.Attributes, f)
	}
	return env
}

// PatchBody builds the partial-update envelope. With no present fields the
// body still carries an empty attributes object.
func PatchBody(typ string, fields ...Field) *Envelope {
	return NewEnvelope(typ, fields...)
}

// RelateOne adds a to-one relationship.
func (env *Envelope) RelateOne(name string, id Identifier) *Envelope {
	env.Relationships = append(env.Relationships, Relationship{Name: name, One: &id})
	return env
}

// RelateMany adds a to-many relationship.
func (env *Envelope) RelateMany(name string, ids []Identifier) *Envelope {
	if ids == nil {
		ids = []Identifier{}
	}
	env.Relationships = append(env.Relationships, Relationship{Name: name, Many: ids})
	return env
}

// Encode implements Body.
func (env *Envelope) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				if env.Type != "" {
					e.Field("type", func(e *jx.Encoder) { e.Str(env.Type) })
				}
				e.Field("attributes", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						for _, f := range env.Attributes {
							e.Field(f.Key, func(e *jx.Encoder) { encodeValue(e, f.Value) })
						}
					})
				})
				if len(env.Relationships) > 0 {
					e.Field("relationships", func(e *jx.Encoder) {
						e.Obj(func(e *jx.Encoder) {
							for _, rel := range env.Relationships {
								e.Field(rel.Name, func(e *jx.Encoder) { rel.encode(e) })
							}
						})
					})
				}
			})
		})
	})
}

// MarshalJSON encodes the envelope with Encode.
func (env *Envelope) MarshalJSON() ([]byte, error) {
	var e jx.Encoder
	env.Encode(&e)
	return e.Bytes(), nil
}

func (rel Relationship) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("data", func(e *jx.Encoder) {
			if rel.One != nil {
				rel.One.encode(e)
				return
			}
			e.Arr(func(e *jx.Encoder) {
				for _, id := range rel.Many {
					id.encode(e)
				}
			})
		})
	})
}

func (id Identifier) encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(id.Type) })
		e.Field("id", func(e *jx.Encoder) { e.Str(id.ID) })
	})
}

type emptyBody struct{}

func (emptyBody) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.ObjEnd()
}

// EmptyBody is the literal {} payload.
var EmptyBody Body = emptyBody{}

// maxExactFloat is the largest float64 below which every integer is exact.
const maxExactFloat = 1 << 53

func encodeValue(e *jx.Encoder, v any) {
	switch v := v.(type) {
	case nil:
		e.Null()
	case string:
		e.Str(v)
	case bool:
		e.Bool(v)
	case int:
		e.Int64(int64(v))
	case int64:
		e.Int64(v)
	case float64:
		// MCP arguments arrive as float64; integral values go out as integers.
		if v == math.Trunc(v) && math.Abs(v) < maxExactFloat {
			e.Int64(int64(v))
			return
		}
		e.Float64(v)
	case []string:
		e.Arr(func(e *jx.Encoder) {
			for _, s := range v {
				e.Str(s)
			}
		})
	case []any:
		e.Arr(func(e *jx.Encoder) {
			for _, item := range v {
				encodeValue(e, item)
			}
		})
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.Obj(func(e *jx.Encoder) {
			for _, k := range keys {
				e.Field(k, func(e *jx.Encoder) { encodeValue(e, v[k]) })
			}
		})
	case jx.Raw:
		e.Raw(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			e.Null()
			return
		}
		e.Raw(b)
	}
}

// Document is a decoded JSON:API response document.
type Document struct {
	// Data is the primary data, verbatim. Nil when the response has none.
	Data     jx.Raw
	Included []Object
}

// Object is a resource object from the included array.
type Object struct {
	Type       string
	ID         string
	Attributes jx.Raw
}

// StringAttr returns a string attribute of the object.
func (o Object) StringAttr(name string) (string, bool) {
	if len(o.Attributes) == 0 {
		return "", false
	}
	var (
		value string
		found bool
	)
	err := jx.DecodeBytes(o.Attributes).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if found || string(key) != name || d.Next() != jx.String {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		value, found = s, true
		return nil
	})
	if err != nil {
		return "", false
	}
	return value, found
}

func decodeDocument(b []byte) (*Document, error) {
	doc := &Document{}
	err := jx.DecodeBytes(b).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "data":
			raw, err := d.Raw()
			if err != nil {
				return errors.Wrap(err, "data")
			}
			doc.Data = append(jx.Raw(nil), raw...)
		case "included":
			return d.Arr(func(d *jx.Decoder) error {
				var o Object
				if err := o.decode(d); err != nil {
					return errors.Wrap(err, "included")
				}
				doc.Included = append(doc.Included, o)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (o *Object) decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "type":
			s, err := d.Str()
			if err != nil {
				return err
			}
			o.Type = s
		case "id":
			if d.Next() != jx.String {
				return d.Skip()
			}
			s, err := d.Str()
			if err != nil {
				return err
			}
			o.ID = s
		case "attributes":
			raw, err := d.Raw()
			if err != nil {
				return err
			}
			o.Attributes = append(jx.Raw(nil), raw...)
		default:
			return d.Skip()
		}
		return nil
	})
}
