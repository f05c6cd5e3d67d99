// Package validation checks order payloads against the storefront's schemas
// and reports failures per field, with messages in Arabic or English.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/locales/ar"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

var (
	personName  = regexp.MustCompile(`^[\x{0600}-\x{06FF}a-zA-Z\s]+$`)
	iraqiMobile = regexp.MustCompile(`^(\+964|964|0)?7[3-9]\d{8}$`)
	uuidV4      = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	emailShape  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	whitespace  = regexp.MustCompile(`\s+`)
)

const (
	maxEmailLen = 254
	// integral floats above this are not rewritten as integers
	maxExactInt = 1 << 53
)

// IsIraqiPhone reports whether phone is an accepted Iraqi mobile number.
// Whitespace is ignored. Only the 73-79 operator prefixes are accepted.
func IsIraqiPhone(phone string) bool {
	return iraqiMobile.MatchString(whitespace.ReplaceAllString(phone, ""))
}

// IsUUIDv4 accepts version 4 UUIDs with an RFC 4122 variant only.
func IsUUIDv4(s string) bool {
	return uuidV4.MatchString(s)
}

func IsEmail(s string) bool {
	return len(s) <= maxEmailLen && emailShape.MatchString(s)
}

// FieldError describes one failed constraint. Field is the JSON path of the
// offending value, e.g. "items[0].quantity".
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// Error wraps field errors so they can travel through error returns.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Result is the outcome of validating an untyped payload.
type Result[T any] struct {
	Success bool         `json:"success"`
	Data    T            `json:"data"`
	Errors  []FieldError `json:"errors,omitempty"`
}

// Validator is safe for concurrent use.
type Validator struct {
	validate *validator.Validate
	trans    ut.Translator
	locale   string
}

type Option func(*Validator)

// WithLocale selects the message language ("ar" or "en").
func WithLocale(locale string) Option {
	return func(v *Validator) { v.locale = locale }
}

// New builds a Validator. Errors only come from broken rule registration.
func New(opts ...Option) (*Validator, error) {
	v := &Validator{validate: validator.New(validator.WithRequiredStructEnabled()), locale: "ar"}
	for _, opt := range opts {
		opt(v)
	}

	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	rules := map[string]validator.Func{
		"person_name": func(fl validator.FieldLevel) bool { return personName.MatchString(fl.Field().String()) },
		"iraqi_phone": func(fl validator.FieldLevel) bool { return IsIraqiPhone(fl.Field().String()) },
		"uuid_v4":     func(fl validator.FieldLevel) bool { return IsUUIDv4(fl.Field().String()) },
		"email_shape": func(fl validator.FieldLevel) bool { return IsEmail(fl.Field().String()) },
	}
	for tag, fn := range rules {
		if err := v.validate.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("register %s: %w", tag, err)
		}
	}

	uni := ut.New(en.New(), ar.New(), en.New())
	trans, ok := uni.GetTranslator(v.locale)
	if !ok {
		return nil, fmt.Errorf("unsupported locale %q", v.locale)
	}
	v.trans = trans
	if err := registerMessages(v.validate, trans, v.locale); err != nil {
		return nil, err
	}
	return v, nil
}

// Struct validates an already typed value. It returns nil when s is valid.
func (v *Validator) Struct(s any) []FieldError {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{v.fieldError("body", "invalid", "")}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Param:   fe.Param(),
			Message: fe.Translate(v.trans),
		})
	}
	return out
}

// Validate decodes raw (a decoded JSON value such as map[string]any) into T
// and checks it. Type mismatches are reported at the submitted path, array
// index included: a string price is a "type" error and a fractional quantity
// an "int" error. Integral values written as 100.0 or 1e2 are accepted for
// integer fields. It never panics on bad input.
func Validate[T any](v *Validator, raw any) Result[T] {
	var res Result[T]
	tree, err := canonical(raw)
	if err != nil {
		res.Errors = []FieldError{v.fieldError("body", "type", "")}
		return res
	}
	data, err := json.Marshal(tree)
	if err != nil {
		res.Errors = []FieldError{v.fieldError("body", "type", "")}
		return res
	}
	if err := json.Unmarshal(data, &res.Data); err != nil {
		res.Errors = v.decodeErrors(tree, err)
		return res
	}
	if errs := v.Struct(res.Data); len(errs) > 0 {
		res.Errors = errs
		return res
	}
	res.Success = true
	return res
}

// canonical re-decodes raw into map[string]any, []any and json.Number values
// and rewrites integral numbers without a fraction or exponent.
func canonical(raw any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return integralNumbers(tree), nil
}

func integralNumbers(node any) any {
	switch n := node.(type) {
	case map[string]any:
		for k, val := range n {
			n[k] = integralNumbers(val)
		}
	case []any:
		for i, val := range n {
			n[i] = integralNumbers(val)
		}
	case json.Number:
		if !strings.ContainsAny(string(n), ".eE") {
			return n
		}
		f, err := n.Float64()
		if err == nil && f == math.Trunc(f) && math.Abs(f) <= maxExactInt {
			return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
		}
	}
	return node
}

type leaf struct {
	path  string
	value any
}

// decodeErrors maps a decoding failure back onto the submitted tree. The
// decoder names the failing field without array indexes ("items.quantity"),
// so every value at that field path is re-checked against the target type.
func (v *Validator) decodeErrors(tree any, err error) []FieldError {
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &typeErr) || typeErr.Field == "" {
		return []FieldError{v.fieldError("body", "type", "")}
	}
	var out []FieldError
	for _, l := range findLeaves(tree, strings.Split(typeErr.Field, "."), "") {
		if decodesAs(l.value, typeErr.Type) {
			continue
		}
		rule := "type"
		if _, isNum := l.value.(json.Number); isNum && isIntKind(typeErr.Type.Kind()) {
			rule = "int"
		}
		out = append(out, v.fieldError(l.path, rule, ""))
	}
	if len(out) == 0 {
		out = append(out, v.fieldError(typeErr.Field, "type", ""))
	}
	return out
}

// findLeaves walks segs through node. Arrays are expanded in place because
// the decoder leaves them out of field paths.
func findLeaves(node any, segs []string, path string) []leaf {
	if list, ok := node.([]any); ok {
		var out []leaf
		for i, el := range list {
			out = append(out, findLeaves(el, segs, fmt.Sprintf("%s[%d]", path, i))...)
		}
		return out
	}
	if len(segs) == 0 {
		return []leaf{{path: path, value: node}}
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	val, ok := lookupKey(obj, segs[0])
	if !ok {
		return nil
	}
	next := segs[0]
	if path != "" {
		next = path + "." + segs[0]
	}
	return findLeaves(val, segs[1:], next)
}

// lookupKey matches keys the way encoding/json does: exact first, then
// case-insensitively.
func lookupKey(obj map[string]any, key string) (any, bool) {
	if val, ok := obj[key]; ok {
		return val, true
	}
	for k, val := range obj {
		if strings.EqualFold(k, key) {
			return val, true
		}
	}
	return nil, false
}

func decodesAs(value any, typ reflect.Type) bool {
	if typ == nil {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, reflect.New(typ).Interface()) == nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func (v *Validator) fieldError(field, rule, param string) FieldError {
	return FieldError{Field: field, Rule: rule, Param: param, Message: v.message(rule, field, param)}
}

func (v *Validator) message(tag, field, param string) string {
	msg, err := v.trans.T(tag, field, param)
	if err != nil {
		return tag
	}
	return msg
}

// fieldPath turns "OrderInput.items[0].price" into "items[0].price".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}
