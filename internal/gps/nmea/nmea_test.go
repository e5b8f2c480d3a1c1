package nmea

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

const (
	rmc_cairo = "$GPRMC,101500.00,A,3002.664,N,03114.142,E,0.5,90.0,150126,,,A*63"
	rmc_1994  = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	rmc_void  = "$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D"
	gga       = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestParseRMC(t *testing.T) {
	req, err := Parse(rmc_cairo)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !near(req.Lat.Value, 30.0444) || !near(req.Lng.Value, 31.2357) {
		t.Errorf("position = %v,%v", req.Lat.Value, req.Lng.Value)
	}
	if !req.Speed.Valid || !near(req.Speed.Value, 0.5*knot) {
		t.Errorf("speed = %+v", req.Speed)
	}
	if !req.Heading.Valid || req.Heading.Value != 90 {
		t.Errorf("heading = %+v", req.Heading)
	}
	want := time.Date(2026, 1, 15, 10, 15, 0, 0, time.UTC).UnixMilli()
	if !req.Ts.Valid || int64(req.Ts.Value) != want {
		t.Errorf("ts = %+v, want %d", req.Ts, want)
	}
}

func TestParseCentury(t *testing.T) {
	req, err := Parse(rmc_1994)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Lng.Value >= 0 {
		t.Errorf("west longitude should be negative, got %v", req.Lng.Value)
	}
	if y := time.UnixMilli(int64(req.Ts.Value)).UTC().Year(); y != 1994 {
		t.Errorf("year = %d, want 1994", y)
	}
}

func TestGGAUsesDateFromRMC(t *testing.T) {
	req, err := Parse(rmc_cairo + "\n" + gga)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !near(req.Lat.Value, 48.1173) || !near(req.Lng.Value, 11.516667) {
		t.Errorf("position = %v,%v, want the GGA one", req.Lat.Value, req.Lng.Value)
	}
	want := time.Date(2026, 1, 15, 12, 35, 19, 0, time.UTC).UnixMilli()
	if int64(req.Ts.Value) != want {
		t.Errorf("ts = %v, want %d", req.Ts.Value, want)
	}
}

func TestGGAAloneHasNoTimestamp(t *testing.T) {
	req, err := Parse(gga)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Ts.Valid {
		t.Errorf("ts should be unknown without a date, got %v", req.Ts.Value)
	}
}

func TestParseNoPosition(t *testing.T) {
	tests := map[string]string{
		"void rmc":     rmc_void,
		"bad checksum": strings.Replace(rmc_cairo, "*63", "*00", 1),
		"garbage":      "hello\nworld",
		"empty":        "",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse(text); !errors.Is(err, ErrNoPosition) {
				t.Errorf("got %v, want %v", err, ErrNoPosition)
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	stream := strings.Join([]string{"noise", rmc_void, rmc_cairo, "$GPXYZ,bad*00", rmc_1994}, "\r\n")
	d := NewDecoder(strings.NewReader(stream))
	first, err := d.Next()
	if err != nil || !near(first.Lat.Value, 30.0444) {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := d.Next()
	if err != nil || !near(second.Lat.Value, 51.5637) {
		t.Fatalf("second = %+v, %v", second, err)
	}
	if _, err := d.Next(); err != io.EOF {
		t.Errorf("got %v, want EOF", err)
	}
}
