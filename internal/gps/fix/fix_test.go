package fix

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

var now = time.UnixMilli(1700000000000)

func TestParseRejectsBadCoordinates(t *testing.T) {
	p := NewParser(nil)
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing lat", `{"lng": 31.2}`, ErrInvalid},
		{"missing lng", `{"lat": 30.1}`, ErrInvalid},
		{"string lat", `{"lat": "30.1", "lng": 31.2}`, ErrInvalid},
		{"null lng", `{"lat": 30.1, "lng": null}`, ErrInvalid},
		{"bool lat", `{"lat": true, "lng": 31.2}`, ErrInvalid},
		{"overflow lat", `{"lat": 1e999, "lng": 31.2}`, ErrInvalid},
		{"empty object", `{}`, ErrInvalid},
		{"null body", `null`, ErrInvalid},
		{"not json", `lat=1&lng=2`, ErrMalformed},
		{"array", `[30.1, 31.2]`, ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse([]byte(tt.body), now)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseZeroIsAValidCoordinate(t *testing.T) {
	p := NewParser(nil)
	f, err := p.Parse([]byte(`{"lat": 0, "lng": 0}`), now)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if f.Lat != 0 || f.Lng != 0 {
		t.Errorf("got %v,%v", f.Lat, f.Lng)
	}
}

func TestParseNormalizesOptionalFields(t *testing.T) {
	p := NewParser(nil)
	f, err := p.Parse([]byte(`{"lat": 30.0444, "lng": 31.2357, "accuracy": 12.5, "speed": "fast", "heading": null}`), now)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if f.Accuracy == nil || *f.Accuracy != 12.5 {
		t.Errorf("accuracy = %v", f.Accuracy)
	}
	if f.Speed != nil {
		t.Errorf("speed should be unknown, got %v", *f.Speed)
	}
	if f.Heading != nil {
		t.Errorf("heading should be unknown, got %v", *f.Heading)
	}
	if f.Ts != now.UnixMilli() {
		t.Errorf("ts = %d, want server time %d", f.Ts, now.UnixMilli())
	}
}

func TestParseKeepsProducerTimestamp(t *testing.T) {
	p := NewParser(nil)
	f, err := p.Parse([]byte(`{"lat": 1, "lng": 2, "ts": 100}`), now)
	if err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if f.Ts != 100 {
		t.Errorf("ts = %d, want 100", f.Ts)
	}
}

func TestFixEncodesUnknownAsNull(t *testing.T) {
	speed := 2.0
	b, err := json.Marshal(Fix{Lat: 1, Lng: 2, Speed: &speed, Ts: 5})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"lat":1,"lng":2,"accuracy":null,"speed":2,"heading":null,"ts":5}`
	if string(b) != want {
		t.Errorf("got %s\nwant %s", b, want)
	}
}

func TestValidateRejectsNonFiniteNumbers(t *testing.T) {
	p := NewParser(nil)
	req := Request{Lat: Number{Value: 1, Valid: true}, Lng: Number{Value: 2, Valid: true}}
	if _, err := p.Validate(&req, now); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	req.Lat = Number{Value: math.NaN(), Valid: true}
	if _, err := p.Validate(&req, now); !errors.Is(err, ErrInvalid) {
		t.Errorf("NaN lat: got %v, want %v", err, ErrInvalid)
	}
	if n := Num(math.Inf(1)); n.Valid {
		t.Error("Num(+Inf) should be unknown")
	}
	if n := Num(math.NaN()); n.Valid {
		t.Error("Num(NaN) should be unknown")
	}
}

func TestParseOutOfRangeTimestampUsesServerTime(t *testing.T) {
	p := NewParser(nil)
	for _, body := range []string{
		`{"lat": 30, "lng": 31, "ts": 1e30}`,
		`{"lat": 30, "lng": 31, "ts": -1e30}`,
		`{"lat": 30, "lng": 31, "ts": 9223372036854775808}`,
	} {
		f, err := p.Parse([]byte(body), now)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", body, err)
		}
		if f.Ts != now.UnixMilli() {
			t.Errorf("%s: ts = %d, want server time %d", body, f.Ts, now.UnixMilli())
		}
	}
	f, err := p.Parse([]byte(`{"lat": 30, "lng": 31, "ts": 1700000000123.9}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if f.Ts != 1700000000123 {
		t.Errorf("ts = %d, want truncated 1700000000123", f.Ts)
	}
}
