package fix

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
)

var (
	ErrMalformed = errors.New("invalid json body")
	ErrInvalid   = errors.New("lat,lng required")
)

// Fix is a single position report. Unknown optional values are nil and
// encode as JSON null.
type Fix struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
	Speed    *float64 `json:"speed"`
	Heading  *float64 `json:"heading"`
	Ts       int64    `json:"ts"`
}

func (f Fix) Time() time.Time {
	return time.UnixMilli(f.Ts)
}

func (f Fix) MarshalObject(e *log.Entry) {
	e.Float64("lat", f.Lat).Float64("lng", f.Lng).Int64("ts", f.Ts)
}

// Number decodes any JSON value. Only finite numbers are valid, everything
// else (null, strings, booleans, out of range) is unknown.
type Number struct {
	Value float64
	Valid bool
}

func Num(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	*n = Num(f)
	return nil
}

func (n Number) ptr() *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Request is the producer payload as posted to the ingest endpoint.
type Request struct {
	Lat      Number `json:"lat" validate:"finite"`
	Lng      Number `json:"lng" validate:"finite"`
	Accuracy Number `json:"accuracy" validate:"omitempty,finite"`
	Speed    Number `json:"speed" validate:"omitempty,finite"`
	Heading  Number `json:"heading" validate:"omitempty,finite"`
	Ts       Number `json:"ts"`
}

// max_ts bounds timestamps that fit in int64 milliseconds.
const max_ts = float64(math.MaxInt64)

// Fix normalizes the request. A missing timestamp, or one outside the int64
// millisecond range, becomes now.
func (r *Request) Fix(now time.Time) Fix {
	f := Fix{
		Lat:      r.Lat.Value,
		Lng:      r.Lng.Value,
		Accuracy: r.Accuracy.ptr(),
		Speed:    r.Speed.ptr(),
		Heading:  r.Heading.ptr(),
		Ts:       now.UnixMilli(),
	}
	if r.Ts.Valid && r.Ts.Value > -max_ts && r.Ts.Value < max_ts {
		f.Ts = int64(r.Ts.Value)
	}
	return f
}

// NewValidator returns a validator that understands Number fields and the
// "finite" tag.
func NewValidator() *validator.Validate {
	vld := validator.New()
	vld.RegisterCustomTypeFunc(number_value, Number{})
	_ = vld.RegisterValidation("finite", is_finite)
	return vld
}

func number_value(v reflect.Value) interface{} {
	n, ok := v.Interface().(Number)
	if !ok || !n.Valid {
		return nil
	}
	return n.Value
}

func is_finite(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return false
	}
}

type Parser struct {
	vld *validator.Validate
}

func NewParser(vld *validator.Validate) *Parser {
	if vld == nil {
		vld = NewValidator()
	}
	return &Parser{vld: vld}
}

// Parse decodes and validates a JSON fix payload.
func (p *Parser) Parse(data []byte, now time.Time) (Fix, error) {
	req := Request{}
	if err := json.Unmarshal(data, &req); err != nil {
		return Fix{}, ErrMalformed
	}
	return p.Validate(&req, now)
}

func (p *Parser) Validate(req *Request, now time.Time) (Fix, error) {
	if err := p.vld.Struct(req); err != nil {
		return Fix{}, ErrInvalid
	}
	return req.Fix(now), nil
}
