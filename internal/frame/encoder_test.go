package frame

import (
	"bytes"
	"testing"
)

var valueLen = map[byte]int{
	TagTemperature: 3,
	TagHumidity:    2,
	TagCO2:         2,
	TagVOC:         2,
	TagGPIO0:       1,
	TagGPIO1:       1,
}

func TestEncodeAllSubsets(t *testing.T) {
	r := Readings{Temperature: 2345, Humidity: 5512, CO2: 612, VOC: 125, GPIO0: true}

	for set := None; set <= All; set++ {
		out := Encode(r, set)

		want := 0
		for _, o := range order {
			if set.Has(o.cat) {
				want += 2 + valueLen[o.tag]
			}
		}
		if want == 0 {
			if len(out) != 0 {
				t.Fatalf("set %s: expected empty frame, got % X", set, out)
			}
			continue
		}
		want += HeaderLen

		if len(out) != want {
			t.Fatalf("set %s: expected length %d, got %d", set, want, len(out))
		}
		if len(out) > MaxLen {
			t.Fatalf("set %s: frame exceeds %d bytes", set, MaxLen)
		}
		if int(out[0]) != len(out)-HeaderLen || out[1] != TypePublish {
			t.Fatalf("set %s: bad header % X", set, out[:2])
		}

		var lastTag byte
		var seen Category
		for i := HeaderLen; i < len(out); {
			tag, n := out[i], int(out[i+1])
			if tag <= lastTag {
				t.Fatalf("set %s: tag %d after %d", set, tag, lastTag)
			}
			if n != valueLen[tag] {
				t.Fatalf("set %s: tag %d has length %d", set, tag, n)
			}
			lastTag = tag
			seen |= Category(1) << (tag - 1)
			i += 2 + n
		}
		if seen != set {
			t.Fatalf("set %s: records for %s", set, seen)
		}
	}
}

func TestEncodeValues(t *testing.T) {
	tests := []struct {
		name    string
		r       Readings
		enabled Category
		want    []byte
	}{
		{
			name:    "positive temperature and humidity",
			r:       Readings{Temperature: 2345, Humidity: 5512},
			enabled: Temperature | Humidity,
			want:    []byte{0x09, 0x0C, 0x01, 0x03, 0x00, 0x09, 0x29, 0x02, 0x02, 0x15, 0x88},
		},
		{
			name:    "negative temperature",
			r:       Readings{Temperature: -1050},
			enabled: Temperature,
			want:    []byte{0x05, 0x0C, 0x01, 0x03, 0xFF, 0x04, 0x1A},
		},
		{
			name:    "co2 voc and gpio",
			r:       Readings{CO2: 0x1234, VOC: 0x00AB, GPIO1: true},
			enabled: CO2 | VOC | GPIO0 | GPIO1,
			want:    []byte{0x0E, 0x0C, 0x03, 0x02, 0x12, 0x34, 0x04, 0x02, 0x00, 0xAB, 0x05, 0x01, 0x00, 0x06, 0x01, 0x01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.r, tt.enabled)
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("expected % X, got % X", tt.want, got)
			}
		})
	}
}

func TestEncodeMinimumTemperature(t *testing.T) {
	got := Encode(Readings{Temperature: -32768}, Temperature)
	want := []byte{0x05, 0x0C, 0x01, 0x03, 0xFF, 0x80, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("expected % X, got % X", want, got)
	}
}

func TestParseCategories(t *testing.T) {
	set, err := ParseCategories([]string{"Temperature", " humidity", "gpio1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set != Temperature|Humidity|GPIO1 {
		t.Fatalf("unexpected set %s", set)
	}
	if _, err := ParseCategories([]string{"pressure"}); err == nil {
		t.Fatalf("expected error for unknown category")
	}
	if Size(All) != 25 {
		t.Fatalf("expected full frame of 25 bytes, got %d", Size(All))
	}
}
